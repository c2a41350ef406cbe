package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/dialcoach/pkg/progress"
	"github.com/MrWong99/dialcoach/pkg/types"
)

// Compile-time interface check.
var _ progress.Sink = (*Sink)(nil)

// ErrNotFound is returned by [Sink.Load] for unknown session ids.
var ErrNotFound = errors.New("progress: session not found")

// Sink stores reports in PostgreSQL. All methods are safe for concurrent use.
type Sink struct {
	pool *pgxpool.Pool
}

// NewSink connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewSink(ctx context.Context, dsn string) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("progress sink: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("progress sink: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("progress sink: %w", err)
	}
	return &Sink{pool: pool}, nil
}

// Submit implements [progress.Sink]. The session row and all of its entries
// are written in one transaction; resubmitting a session id replaces it.
func (s *Sink) Submit(ctx context.Context, r progress.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("progress sink: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `
		INSERT INTO sessions
		    (id, scenario, started_at, duration_ms, final_index, chunk_count, end_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    scenario    = EXCLUDED.scenario,
		    started_at  = EXCLUDED.started_at,
		    duration_ms = EXCLUDED.duration_ms,
		    final_index = EXCLUDED.final_index,
		    chunk_count = EXCLUDED.chunk_count,
		    end_reason  = EXCLUDED.end_reason`

	startedAt := r.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().Add(-r.Duration)
	}
	if _, err := tx.Exec(ctx, upsert,
		r.SessionID,
		r.Scenario,
		startedAt,
		r.Duration.Milliseconds(),
		r.FinalIndex,
		r.ChunkCount,
		string(r.EndReason),
	); err != nil {
		return fmt.Errorf("progress sink: write session: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM session_entries WHERE session_id = $1`, r.SessionID); err != nil {
		return fmt.Errorf("progress sink: clear entries: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"session_entries"},
		[]string{"session_id", "seq", "speaker", "message", "timestamp_seconds"},
		pgx.CopyFromSlice(len(r.Entries), func(i int) ([]any, error) {
			e := r.Entries[i]
			return []any{r.SessionID, i, e.Speaker.String(), e.Message, e.TimestampSeconds}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("progress sink: write entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("progress sink: commit: %w", err)
	}
	return nil
}

// Load reads a stored report back, with entries in their original order.
func (s *Sink) Load(ctx context.Context, sessionID string) (progress.Report, error) {
	r := progress.Report{SessionID: sessionID}
	var (
		durationMS int64
		endReason  string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT scenario, started_at, duration_ms, final_index, chunk_count, end_reason
		FROM   sessions
		WHERE  id = $1`, sessionID).
		Scan(&r.Scenario, &r.StartedAt, &durationMS, &r.FinalIndex, &r.ChunkCount, &endReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return progress.Report{}, ErrNotFound
	}
	if err != nil {
		return progress.Report{}, fmt.Errorf("progress sink: load session: %w", err)
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.EndReason = progress.EndReason(endReason)

	rows, err := s.pool.Query(ctx, `
		SELECT speaker, message, timestamp_seconds
		FROM   session_entries
		WHERE  session_id = $1
		ORDER  BY seq`, sessionID)
	if err != nil {
		return progress.Report{}, fmt.Errorf("progress sink: load entries: %w", err)
	}
	r.Entries, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.TranscriptEntry, error) {
		var (
			e       types.TranscriptEntry
			speaker string
		)
		if err := row.Scan(&speaker, &e.Message, &e.TimestampSeconds); err != nil {
			return e, err
		}
		e.Speaker = types.ParseRole(speaker)
		return e, nil
	})
	if err != nil {
		return progress.Report{}, fmt.Errorf("progress sink: scan entries: %w", err)
	}
	return r, nil
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Sink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Sink) Close() {
	s.pool.Close()
}
