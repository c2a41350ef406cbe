// Package transcript assembles the ordered conversation transcript from the
// noisy, duplicate-prone stream of recognised utterances.
//
// The [Reconciler] applies three filters before appending an utterance:
//
//  1. An active-turn guard drops text attributed to a party other than the one
//     currently holding the floor. User text arriving shortly after a user turn
//     started is let through to tolerate races between turn-boundary and
//     transcript events.
//  2. A same-role duplicate filter drops text nearly identical to that role's
//     last accepted utterance within a short window (stutters, re-sent finals).
//  3. A cross-role echo guard drops text nearly identical to the other role's
//     last accepted utterance within a short window (played-back audio picked
//     up by the microphone and transcribed again).
//
// Accepted entries are never modified or reordered. The transcript is only
// cleared by [Reconciler.Reset].
package transcript

import (
	"sync"
	"time"

	"github.com/MrWong99/dialcoach/pkg/clock"
	"github.com/MrWong99/dialcoach/pkg/textsim"
	"github.com/MrWong99/dialcoach/pkg/types"
)

// Verdict is the outcome of [Reconciler.AppendIfNovel].
type Verdict int

const (
	// Accepted means the utterance was appended.
	Accepted Verdict = iota

	// DroppedEmpty means the utterance normalised to nothing.
	DroppedEmpty

	// DroppedActiveTurn means another party held the floor.
	DroppedActiveTurn

	// DroppedDuplicate means the same role said nearly the same thing within
	// the dedup window.
	DroppedDuplicate

	// DroppedEcho means the other role said nearly the same thing within the
	// echo window.
	DroppedEcho
)

// String returns the verdict name, used as a metric attribute.
func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case DroppedEmpty:
		return "empty"
	case DroppedActiveTurn:
		return "active_turn"
	case DroppedDuplicate:
		return "duplicate"
	case DroppedEcho:
		return "echo"
	default:
		return "unknown"
	}
}

// Config holds the reconciler's tuning parameters.
type Config struct {
	// DedupWindow bounds how far back the same-role duplicate filter looks.
	DedupWindow time.Duration `yaml:"dedup_window"`

	// EchoWindow bounds how far back the cross-role echo guard looks.
	EchoWindow time.Duration `yaml:"echo_window"`

	// Threshold is the similarity at or above which two utterances count as
	// the same.
	Threshold float64 `yaml:"threshold"`

	// UserTurnGrace is how long after a user turn started user text passes
	// the active-turn guard regardless of who holds the floor.
	UserTurnGrace time.Duration `yaml:"user_turn_grace"`
}

// DefaultConfig returns the empirically chosen defaults.
func DefaultConfig() Config {
	return Config{
		DedupWindow:   5 * time.Second,
		EchoWindow:    5 * time.Second,
		Threshold:     0.90,
		UserTurnGrace: time.Second,
	}
}

// recency remembers a role's last accepted utterance.
type recency struct {
	text string // normalised
	at   time.Time
	set  bool
}

// within reports whether r was recorded no longer than window before now.
func (r recency) within(now time.Time, window time.Duration) bool {
	return r.set && now.Sub(r.at) <= window
}

// Reconciler owns the transcript. All methods are safe for concurrent use.
type Reconciler struct {
	clk clock.Clock
	cfg Config

	mu            sync.Mutex
	start         time.Time
	entries       []types.TranscriptEntry
	recent        [2]recency // indexed by types.Role
	active        types.Role
	hasActive     bool
	userTurnStart time.Time
	lastTS        int
}

// New returns a Reconciler whose timestamps count from clk.Now().
func New(clk clock.Clock, cfg Config) *Reconciler {
	return &Reconciler{clk: clk, cfg: cfg, start: clk.Now()}
}

// AppendIfNovel appends text as an utterance of role unless one of the
// filters rejects it. The returned entry is only meaningful for [Accepted].
func (r *Reconciler) AppendIfNovel(role types.Role, text string) (types.TranscriptEntry, Verdict) {
	norm := textsim.Normalize(text)
	if norm == "" {
		return types.TranscriptEntry{}, DroppedEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()

	if r.hasActive && r.active != role {
		inGrace := role == types.RoleUser && !r.userTurnStart.IsZero() &&
			now.Sub(r.userTurnStart) <= r.cfg.UserTurnGrace
		if !inGrace {
			return types.TranscriptEntry{}, DroppedActiveTurn
		}
	}

	if same := r.recent[role]; same.within(now, r.cfg.DedupWindow) &&
		textsim.NormalizedSimilarity(norm, same.text) >= r.cfg.Threshold {
		return types.TranscriptEntry{}, DroppedDuplicate
	}

	if other := r.recent[role.Other()]; other.within(now, r.cfg.EchoWindow) &&
		textsim.NormalizedSimilarity(norm, other.text) >= r.cfg.Threshold {
		return types.TranscriptEntry{}, DroppedEcho
	}

	r.recent[role] = recency{text: norm, at: now, set: true}

	ts := max(int(now.Sub(r.start)/time.Second), r.lastTS)
	r.lastTS = ts
	entry := types.TranscriptEntry{Speaker: role, Message: text, TimestampSeconds: ts}
	r.entries = append(r.entries, entry)
	return entry, Accepted
}

// MarkTurnStart records that role took the floor.
func (r *Reconciler) MarkTurnStart(role types.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active, r.hasActive = role, true
	if role == types.RoleUser {
		r.userTurnStart = r.clk.Now()
	}
}

// MarkTurnStop records that role released the floor. Stopping a role that
// does not hold the floor is a no-op.
func (r *Reconciler) MarkTurnStop(role types.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasActive && r.active == role {
		r.hasActive = false
	}
}

// ActiveSpeaker returns the party currently holding the floor, if any.
func (r *Reconciler) ActiveSpeaker() (types.Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.hasActive
}

// Entries returns a copy of the transcript in order.
func (r *Reconciler) Entries() []types.TranscriptEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.TranscriptEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of accepted entries.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset clears the transcript, the recency records and the active speaker,
// and restarts the timestamp origin.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.recent = [2]recency{}
	r.hasActive = false
	r.userTurnStart = time.Time{}
	r.lastTS = 0
	r.start = r.clk.Now()
}
