package memory

import (
	"context"
	"sync"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore is an in-memory audit.Store holding a bounded ring of the
// most recent records. It backs local stdio runs, where a database on
// disk would be overkill, and lets tests assert on what was recorded.
type AuditStore struct {
	mu     sync.Mutex
	recent []audit.Record
	cap    int
}

var _ audit.Store = (*AuditStore)(nil)

// NewAuditStore creates a store keeping up to capacity records;
// capacity <= 0 uses the default of 1000.
func NewAuditStore(capacity int) *AuditStore {
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	return &AuditStore{
		recent: make([]audit.Record, 0, capacity),
		cap:    capacity,
	}
}

// Append stores the records, evicting the oldest past capacity.
func (s *AuditStore) Append(_ context.Context, recs ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		if len(s.recent) == s.cap {
			copy(s.recent, s.recent[1:])
			s.recent = s.recent[:s.cap-1]
		}
		s.recent = append(s.recent, rec)
	}
	return nil
}

// Flush is a no-op; records are already in memory.
func (s *AuditStore) Flush(context.Context) error { return nil }

// Close is a no-op.
func (s *AuditStore) Close() error { return nil }

// Recent returns a copy of the stored records, oldest first.
func (s *AuditStore) Recent() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Record, len(s.recent))
	copy(out, s.recent)
	return out
}
