package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/dialcoach/pkg/clock/fake"
)

var errSynth = errors.New("synth: 503 service unavailable")

func newClock() *fake.Clock {
	return fake.New(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
}

func fail() error { return errSynth }
func ok() error   { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{})
	if b.cfg.Threshold != 3 || b.cfg.Cooldown != 20*time.Second || b.cfg.Probes != 1 {
		t.Errorf("defaults = %+v", b.cfg)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     BreakerConfig
		calls   []func() error
		advance time.Duration
		after   []func() error
		want    State
	}{
		{
			name:  "failures below threshold stay closed",
			cfg:   BreakerConfig{Threshold: 3},
			calls: []func() error{fail, fail},
			want:  StateClosed,
		},
		{
			name:  "threshold opens",
			cfg:   BreakerConfig{Threshold: 3},
			calls: []func() error{fail, fail, fail},
			want:  StateOpen,
		},
		{
			name:  "success resets the streak",
			cfg:   BreakerConfig{Threshold: 3},
			calls: []func() error{fail, fail, ok, fail, fail},
			want:  StateClosed,
		},
		{
			name:    "cooldown reports half-open",
			cfg:     BreakerConfig{Threshold: 1, Cooldown: 10 * time.Second},
			calls:   []func() error{fail},
			advance: 10 * time.Second,
			want:    StateHalfOpen,
		},
		{
			name:    "probes close",
			cfg:     BreakerConfig{Threshold: 1, Cooldown: 10 * time.Second, Probes: 2},
			calls:   []func() error{fail},
			advance: 11 * time.Second,
			after:   []func() error{ok, ok},
			want:    StateClosed,
		},
		{
			name:    "failed probe reopens",
			cfg:     BreakerConfig{Threshold: 1, Cooldown: 10 * time.Second, Probes: 2},
			calls:   []func() error{fail},
			advance: 11 * time.Second,
			after:   []func() error{ok, fail},
			want:    StateOpen,
		},
		{
			name:  "cancellations are not failures",
			cfg:   BreakerConfig{Threshold: 2},
			calls: []func() error{func() error { return fmt.Errorf("synth: %w", context.Canceled) }, fail, func() error { return context.Canceled }},
			want:  StateClosed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clk := newClock()
			tt.cfg.Clock = clk
			b := NewBreaker(tt.cfg)
			for _, fn := range tt.calls {
				_ = b.Do(fn)
			}
			clk.Advance(tt.advance)
			for _, fn := range tt.after {
				_ = b.Do(fn)
			}
			if got := b.State(); got != tt.want {
				t.Errorf("State() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Threshold: 1, Clock: newClock()})
	_ = b.Do(fail)

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Do() = %v, want ErrOpen", err)
	}
	if called {
		t.Error("open breaker called fn")
	}
}

func TestBreaker_ProbeBudget(t *testing.T) {
	t.Parallel()

	clk := newClock()
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Second, Probes: 1, Clock: clk})
	_ = b.Do(fail)
	clk.Advance(2 * time.Second)

	// A probe still in flight uses up the budget.
	release := make(chan struct{})
	done := make(chan error, 1)
	entered := make(chan struct{})
	go func() {
		done <- b.Do(func() error { close(entered); <-release; return nil })
	}()
	<-entered
	if err := b.Do(ok); !errors.Is(err, ErrOpen) {
		t.Errorf("second probe = %v, want ErrOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestBreaker_CancelledProbeFreesBudget(t *testing.T) {
	t.Parallel()

	clk := newClock()
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Second, Clock: clk})
	_ = b.Do(fail)
	clk.Advance(2 * time.Second)

	if err := b.Do(func() error { return context.Canceled }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() = %v, want context.Canceled", err)
	}
	if err := b.Do(ok); err != nil {
		t.Fatalf("probe after cancelled probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Hour, Clock: newClock()})
	_ = b.Do(fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", b.State())
	}
	if err := b.Do(ok); err != nil {
		t.Errorf("Do() after Reset = %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
