// Package progress defines the sink that receives a finished rehearsal
// session: the complete, ordered transcript plus the session outcome.
//
// The engine only guarantees that the transcript handed to a [Sink] is
// complete and in conversational order. Scoring and persistence are the
// sink's business.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/dialcoach/pkg/types"
)

// EndReason records why a session ended.
type EndReason string

const (
	// EndCallEnded means the counterpart ended the call (farewell, hang-up or
	// silence escalation) and the disconnect tone has played.
	EndCallEnded EndReason = "call_ended"

	// EndCancelled means the caller cancelled the session context.
	EndCancelled EndReason = "cancelled"

	// EndChannelClosed means the realtime channel closed underneath the
	// session.
	EndChannelClosed EndReason = "channel_closed"
)

// Report is the final state of one session.
type Report struct {
	// SessionID uniquely identifies the session.
	SessionID string `json:"session_id"`

	// Scenario is the name of the rehearsed script, if any.
	Scenario string `json:"scenario,omitempty"`

	// StartedAt is the wall-clock start of the session.
	StartedAt time.Time `json:"started_at"`

	// Duration is the elapsed session time.
	Duration time.Duration `json:"duration"`

	// Entries is the complete reconciled transcript in order.
	Entries []types.TranscriptEntry `json:"entries"`

	// FinalIndex is the script position reached when the session ended.
	FinalIndex int `json:"final_index"`

	// ChunkCount is the number of script lines in the scenario.
	ChunkCount int `json:"chunk_count"`

	// EndReason records why the session ended.
	EndReason EndReason `json:"end_reason"`
}

// Sink receives finished session reports.
type Sink interface {
	// Submit hands over a finished report. Implementations must not retain
	// r.Entries beyond the call unless they copy it.
	Submit(ctx context.Context, r Report) error
}

// SinkFunc adapts a plain function to the [Sink] interface.
type SinkFunc func(ctx context.Context, r Report) error

// Submit calls f.
func (f SinkFunc) Submit(ctx context.Context, r Report) error { return f(ctx, r) }

// LogSink writes a one-line summary of each report to a structured logger.
type LogSink struct {
	// Logger defaults to [slog.Default] when nil.
	Logger *slog.Logger
}

// Submit implements [Sink].
func (s LogSink) Submit(_ context.Context, r Report) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("session finished",
		"session_id", r.SessionID,
		"scenario", r.Scenario,
		"duration", r.Duration.Round(time.Second),
		"entries", len(r.Entries),
		"final_index", r.FinalIndex,
		"chunks", r.ChunkCount,
		"end_reason", r.EndReason,
	)
	return nil
}

// Multi fans a report out to every sink. All sinks are attempted; their
// errors are joined.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, r Report) error {
		var errs []error
		for _, s := range sinks {
			if err := s.Submit(ctx, r); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
