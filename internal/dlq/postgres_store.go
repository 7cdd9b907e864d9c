package dlq

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/greentic/gsm-gateway/internal/envelope"
)

// PostgresStore persists DLQ entries beyond the bus's own retention
// window, so the dlq-replay CLI's list command still has something to
// show after a stream has trimmed the underlying messages. It is
// grounded on the teacher's internal/storage/cockroach.go
// sql.Open("postgres", dsn) construction and its pq.Array/pq.Error
// usage for array columns and duplicate-key detection.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn against the postgres driver lib/pq
// registers and pings it before returning, matching the teacher's
// fail-fast-on-boot pattern rather than deferring the error to the
// first query.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("dlq: open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dlq: ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// Record persists entry, tolerating a duplicate-key retry (a
// replayed publish landing twice) as a no-op rather than an error.
func (s *PostgresStore) Record(ctx context.Context, entry envelope.DLQEntry) error {
	_, err := s.db.ExecContext(ctx, insertDLQEntrySQL,
		entry.Tenant,
		string(entry.Stage),
		entry.Subject,
		entry.ErrorKind,
		entry.ErrorDetail,
		entry.FirstSeen,
		entry.AttemptCount,
		entry.ReplaySubject,
		entry.OriginalBytes,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return nil
		}
		return fmt.Errorf("dlq: insert entry: %w", err)
	}
	return nil
}

// List returns up to limit entries for tenant/stage, most recent first.
// An empty tenantID or stage matches every value for that column.
func (s *PostgresStore) List(ctx context.Context, tenantID, stage string, limit int) ([]envelope.DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, listDLQEntriesSQL, tenantID, stage, limit)
	if err != nil {
		return nil, fmt.Errorf("dlq: list entries: %w", err)
	}
	defer rows.Close()

	var out []envelope.DLQEntry
	for rows.Next() {
		var e envelope.DLQEntry
		var stageStr string
		if err := rows.Scan(&e.Tenant, &stageStr, &e.Subject, &e.ErrorKind, &e.ErrorDetail, &e.FirstSeen, &e.AttemptCount, &e.ReplaySubject, &e.OriginalBytes); err != nil {
			return nil, fmt.Errorf("dlq: scan entry: %w", err)
		}
		e.Stage = envelope.DLQStage(stageStr)
		out = append(out, e)
	}
	return out, rows.Err()
}

const (
	pqUniqueViolation = "23505"

	createDLQTableSQL = `
CREATE TABLE IF NOT EXISTS dlq_entries (
	id             BIGSERIAL PRIMARY KEY,
	tenant         TEXT NOT NULL,
	stage          TEXT NOT NULL,
	subject        TEXT NOT NULL,
	error_kind     TEXT NOT NULL,
	error_detail   TEXT NOT NULL,
	first_seen     TIMESTAMPTZ NOT NULL,
	attempt_count  INTEGER NOT NULL,
	replay_subject TEXT NOT NULL,
	original_bytes BYTEA NOT NULL,
	UNIQUE (tenant, stage, subject, first_seen)
)`

	insertDLQEntrySQL = `
INSERT INTO dlq_entries (tenant, stage, subject, error_kind, error_detail, first_seen, attempt_count, replay_subject, original_bytes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	listDLQEntriesSQL = `
SELECT tenant, stage, subject, error_kind, error_detail, first_seen, attempt_count, replay_subject, original_bytes
FROM dlq_entries
WHERE ($1 = '' OR tenant = $1) AND ($2 = '' OR stage = $2)
ORDER BY first_seen DESC
LIMIT $3`
)

// Migrate creates the dlq_entries table if it does not already exist.
// Call once at process startup, mirroring the teacher's
// internal/sessions/migrate.go pattern of an idempotent CREATE TABLE
// IF NOT EXISTS rather than a separate migration tool.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createDLQTableSQL)
	if err != nil {
		return fmt.Errorf("dlq: migrate: %w", err)
	}
	return nil
}
