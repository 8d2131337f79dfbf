package audit

import "context"

// Store persists admission records. Implementations batch and write
// asynchronously; Append must never block the admission path.
type Store interface {
	// Append enqueues records for persistence.
	Append(ctx context.Context, recs ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close flushes and releases resources.
	Close() error
}

// NopStore discards every record. Used when auditing is disabled.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) Append(context.Context, ...Record) error { return nil }
func (NopStore) Flush(context.Context) error             { return nil }
func (NopStore) Close() error                            { return nil }
