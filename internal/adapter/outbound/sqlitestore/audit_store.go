// Package sqlitestore persists admission audit records in a local
// SQLite database. Writes are batched off the admission path; a failed
// write degrades to a logged warning.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/audit"
)

const (
	// queueSize bounds the pending-record channel. When full, Append
	// drops the record rather than block admission.
	queueSize = 1024
	// batchSize is the maximum number of records per transaction.
	batchSize = 100
	// flushInterval is how often buffered records are written even when
	// the batch is not full.
	flushInterval = time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS admission_log (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    time           TEXT    NOT NULL,
    request_id     TEXT    NOT NULL,
    tool           TEXT    NOT NULL,
    category       TEXT    NOT NULL,
    client_id      TEXT    NOT NULL,
    decision       TEXT    NOT NULL,
    stage          TEXT    NOT NULL,
    reason         TEXT    NOT NULL DEFAULT '',
    warnings       INTEGER NOT NULL DEFAULT 0,
    latency_micros INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_admission_log_time ON admission_log(time);
CREATE INDEX IF NOT EXISTS idx_admission_log_client ON admission_log(client_id, time);
`

// AuditStore is the audit.Store implementation backed by SQLite.
type AuditStore struct {
	db     *sql.DB
	logger *slog.Logger

	queue chan audit.Record
	flush chan chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	writer    sync.WaitGroup
}

var _ audit.Store = (*AuditStore)(nil)

// NewAuditStore opens (creating if needed) the database at path,
// enables WAL mode, applies the schema and starts the writer goroutine.
func NewAuditStore(path string, logger *slog.Logger) (*AuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY churn between the writer and shutdown flush.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}

	s := &AuditStore{
		db:     db,
		logger: logger,
		queue:  make(chan audit.Record, queueSize),
		flush:  make(chan chan struct{}),
		done:   make(chan struct{}),
	}
	s.writer.Add(1)
	go s.run()
	return s, nil
}

// Append enqueues records without blocking. Records are dropped with a
// warning when the queue is full or the store is closed.
func (s *AuditStore) Append(_ context.Context, recs ...audit.Record) error {
	for _, rec := range recs {
		select {
		case <-s.done:
			return errors.New("audit store closed")
		case s.queue <- rec:
		default:
			s.logger.Warn("audit queue full, dropping record",
				"tool", rec.Tool,
				"client_id", rec.ClientID,
			)
		}
	}
	return nil
}

// Flush drains the queue and commits pending records.
func (s *AuditStore) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case <-s.done:
		return errors.New("audit store closed")
	case s.flush <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending records, stops the writer and closes the
// database.
func (s *AuditStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.writer.Wait()
	return s.db.Close()
}

func (s *AuditStore) run() {
	defer s.writer.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]audit.Record, 0, batchSize)
	commit := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.writeBatch(batch); err != nil {
			s.logger.Warn("audit batch write failed", "records", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.queue:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				commit()
			}
		case <-ticker.C:
			commit()
		case ack := <-s.flush:
			s.drainInto(&batch)
			commit()
			close(ack)
		case <-s.done:
			s.drainInto(&batch)
			commit()
			return
		}
	}
}

// drainInto moves everything currently queued into the batch,
// committing intermediate batches as they fill.
func (s *AuditStore) drainInto(batch *[]audit.Record) {
	for {
		select {
		case rec := <-s.queue:
			*batch = append(*batch, rec)
			if len(*batch) >= batchSize {
				if err := s.writeBatch(*batch); err != nil {
					s.logger.Warn("audit batch write failed", "records", len(*batch), "error", err)
				}
				*batch = (*batch)[:0]
			}
		default:
			return
		}
	}
}

func (s *AuditStore) writeBatch(recs []audit.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO admission_log
		(time, request_id, tool, category, client_id, decision, stage, reason, warnings, latency_micros)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		_, err := stmt.ExecContext(ctx,
			rec.Time.UTC().Format(time.RFC3339Nano),
			rec.RequestID,
			rec.Tool,
			rec.Category,
			rec.ClientID,
			rec.Decision,
			rec.Stage,
			rec.Reason,
			rec.Warnings,
			rec.LatencyMicros,
		)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
