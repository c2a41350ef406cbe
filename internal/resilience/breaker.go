// Package resilience keeps a failing speech synthesizer from stalling the
// conversation.
//
// A [Breaker] counts consecutive synthesis failures and, once tripped, rejects
// calls for a cooldown so the session skips the response instead of waiting on
// a backend that is down. A [Chain] orders several backends of one kind, each
// behind its own breaker, and [SynthChain] is the [tts.Provider] built on it.
//
// A call aborted through context cancellation (a cleared playback queue) is not
// a backend failure: it neither trips a breaker nor moves on down the chain.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/dialcoach/pkg/clock"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: breaker open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successful probes close the breaker; a failed one opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults noted.
type BreakerConfig struct {
	// Name labels log lines, usually the backend name.
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 3.
	Threshold int

	// Cooldown is how long an open breaker rejects calls. Default: 20s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close.
	// Default: 1.
	Probes int

	// Clock measures the cooldown. Default: the wall clock.
	Clock clock.Clock
}

func (c *BreakerConfig) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 20 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 1
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // when the breaker last opened
	inflight int       // probes admitted in the current half-open round
	passed   int       // probes that succeeded in the current round
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg.applyDefaults()
	return &Breaker{cfg: cfg}
}

// Do runs fn unless the breaker rejects the call, in which case it returns
// [ErrOpen] without calling fn. An error wrapping [context.Canceled] is passed
// through without being counted.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(probe, err)
	return err
}

// acquire admits one call and reports whether it is a half-open probe.
func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.cfg.Clock.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrOpen
		}
		b.transition(StateHalfOpen)
		b.inflight, b.passed = 0, 0
	}
	if b.state != StateHalfOpen {
		return false, nil
	}
	if b.inflight >= b.cfg.Probes {
		return false, ErrOpen
	}
	b.inflight++
	return true, nil
}

// settle records the outcome of a call admitted by acquire.
func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case errors.Is(err, context.Canceled):
		if probe && b.state == StateHalfOpen {
			b.inflight--
		}
	case err != nil:
		if probe || b.state == StateHalfOpen {
			b.trip()
			return
		}
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.trip()
		}
	case probe:
		if b.state != StateHalfOpen {
			return
		}
		b.passed++
		if b.passed >= b.cfg.Probes {
			b.failures = 0
			b.transition(StateClosed)
		}
	default:
		b.failures = 0
	}
}

// trip opens the breaker. Callers hold b.mu.
func (b *Breaker) trip() {
	b.openedAt = b.cfg.Clock.Now()
	b.transition(StateOpen)
}

// transition moves to next and logs the change. Callers hold b.mu.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	level := slog.LevelInfo
	if next == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "breaker state changed",
		"name", b.cfg.Name,
		"from", prev.String(),
		"to", next.String(),
		"failures", b.failures,
	)
}

// State returns the current state. An open breaker whose cooldown has elapsed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Clock.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.inflight, b.passed = 0, 0, 0
	b.transition(StateClosed)
}
