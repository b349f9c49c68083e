// Package postgres provides a durable archive for session entries.
// The daily JSONL files remain the source of truth; this store adds
// queryable long-range history.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kajovic/liora-core/core/sessions"
)

var _ sessions.Archiver = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS session_entries (
    id         text PRIMARY KEY,
    session_id text        NOT NULL,
    sender     text        NOT NULL,
    text       text        NOT NULL,
    artifact   text        NOT NULL DEFAULT '',
    ts         timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS session_entries_session_idx ON session_entries (session_id, ts);
CREATE INDEX IF NOT EXISTS session_entries_ts_idx ON session_entries (ts);`

// Store archives session entries in a PostgreSQL table. Safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and ensures the schema
// exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("session archive: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("session archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session archive: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session archive: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Record implements [sessions.Archiver].
func (s *Store) Record(ctx context.Context, entry sessions.Entry) error {
	const q = `
		INSERT INTO session_entries (id, session_id, sender, text, artifact, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, q,
		entry.ID,
		entry.SessionID,
		entry.Sender,
		entry.Text,
		entry.Artifact,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("session archive: record entry: %w", err)
	}
	return nil
}

// Session returns all entries for sessionID, oldest first.
func (s *Store) Session(ctx context.Context, sessionID string) ([]sessions.Entry, error) {
	const q = `
		SELECT id, session_id, sender, text, artifact, ts
		FROM   session_entries
		WHERE  session_id = $1
		ORDER  BY ts`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session archive: get session: %w", err)
	}
	return collectEntries(rows)
}

// Recent returns all entries newer than time.Now()-window, oldest
// first.
func (s *Store) Recent(ctx context.Context, window time.Duration) ([]sessions.Entry, error) {
	const q = `
		SELECT id, session_id, sender, text, artifact, ts
		FROM   session_entries
		WHERE  ts >= now() - ($1::bigint * interval '1 microsecond')
		ORDER  BY ts`

	rows, err := s.pool.Query(ctx, q, window.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("session archive: get recent: %w", err)
	}
	return collectEntries(rows)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func collectEntries(rows pgx.Rows) ([]sessions.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sessions.Entry, error) {
		var e sessions.Entry
		err := row.Scan(&e.ID, &e.SessionID, &e.Sender, &e.Text, &e.Artifact, &e.Timestamp)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("session archive: scan rows: %w", err)
	}
	if entries == nil {
		entries = []sessions.Entry{}
	}
	return entries, nil
}
