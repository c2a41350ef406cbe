// Package postgres provides a PostgreSQL-backed progress.Sink that stores
// every finished session and its reconciled transcript.
//
// Usage:
//
//	sink, err := postgres.NewSink(ctx, dsn)
//	if err != nil { … }
//	defer sink.Close()
//	_ = sink.Submit(ctx, report)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id           TEXT         PRIMARY KEY,
    scenario     TEXT         NOT NULL DEFAULT '',
    started_at   TIMESTAMPTZ  NOT NULL,
    duration_ms  BIGINT       NOT NULL DEFAULT 0,
    final_index  INTEGER      NOT NULL DEFAULT 0,
    chunk_count  INTEGER      NOT NULL DEFAULT 0,
    end_reason   TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at
    ON sessions (started_at);
`

const ddlSessionEntries = `
CREATE TABLE IF NOT EXISTS session_entries (
    session_id         TEXT     NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    seq                INTEGER  NOT NULL,
    speaker            TEXT     NOT NULL,
    message            TEXT     NOT NULL,
    timestamp_seconds  INTEGER  NOT NULL,
    PRIMARY KEY (session_id, seq)
);
`

// Migrate creates the sessions and session_entries tables if they do not
// exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlSessionEntries} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("progress migrate: %w", err)
		}
	}
	return nil
}
