// Package pgstore implements store.LogStore over PostgreSQL using
// pgx/pgxpool, grounded in the teacher's StateStore (db/state_store.go):
// a pool injected at construction, parameterized queries via
// pool.Exec/Query, no in-memory caching — all state lives in the
// database, matching the spec's at-least-once append requirement
// (a retried Append after a network failure is safe to insert again
// since the log is reconciled by scanning, not by exactly-once count).
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evalgo/gdbtx/store"
)

var _ store.LogStore = (*Store)(nil)

// Store is a Postgres-backed append-only transaction-log store.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// New wraps an existing pool. table must already exist; New does not
// create it (Open does, with the DDL in ensureTable).
func New(pool *pgxpool.Pool, table string) *Store {
	if table == "" {
		table = "gdbtx_transaction_log"
	}
	return &Store{pool: pool, table: table}
}

// Open connects to Postgres at connString and ensures the log table
// exists.
func Open(ctx context.Context, connString, table string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	s := New(pool, table)
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			record BYTEA NOT NULL
		)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("pgstore: create table: %w", err)
	}
	return nil
}

// Append inserts record as a new row. Safe to retry: a duplicate append
// after a transport failure just produces an extra row, which
// reconciliation tooling (cmd/gdbtx-logcat) treats as idempotent replay
// rather than a correctness issue, matching the at-least-once contract
// of spec §6's backend contract.
func (s *Store) Append(ctx context.Context, record []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (record) VALUES ($1)`, s.table)
	if _, err := s.pool.Exec(ctx, query, record); err != nil {
		return fmt.Errorf("pgstore: append: %w", err)
	}
	return nil
}

// LogRecord is one row read back by Scan, used by reconciliation
// tooling rather than by the commit engine itself.
type LogRecord struct {
	ID     int64
	Record []byte
}

// Scan returns every record with id > afterID, in insertion order, for
// post-mortem reconciliation.
func (s *Store) Scan(ctx context.Context, afterID int64, limit int) ([]LogRecord, error) {
	query := fmt.Sprintf(`SELECT id, record FROM %s WHERE id > $1 ORDER BY id ASC LIMIT $2`, s.table)
	rows, err := s.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan: %w", err)
	}
	defer rows.Close()

	var out []LogRecord
	for rows.Next() {
		var rec LogRecord
		if err := rows.Scan(&rec.ID, &rec.Record); err != nil {
			return nil, fmt.Errorf("pgstore: scan row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: scan rows: %w", err)
	}
	return out, nil
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
