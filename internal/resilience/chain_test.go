package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing map[string]bool
		want    string
		wantErr error
	}{
		{name: "primary answers", want: "from openai"},
		{name: "fallback answers", failing: map[string]bool{"openai": true}, want: "from elevenlabs"},
		{name: "all fail", failing: map[string]bool{"openai": true, "elevenlabs": true}, wantErr: ErrExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewChain("openai", "openai", BreakerConfig{Clock: newClock()})
			c.Add("elevenlabs", "elevenlabs")

			got, err := Call(c, func(b string) (string, error) {
				if tt.failing[b] {
					return "", errSynth
				}
				return "from " + b, nil
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, errSynth) {
					t.Fatalf("Call() error = %v, want %v wrapping the last failure", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Call() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestCall_SkipsOpenBackend(t *testing.T) {
	t.Parallel()

	c := NewChain("openai", "openai", BreakerConfig{Threshold: 2, Cooldown: time.Hour, Clock: newClock()})
	c.Add("elevenlabs", "elevenlabs")

	var tried []string
	call := func() {
		_, _ = Call(c, func(b string) (string, error) {
			tried = append(tried, b)
			if b == "openai" {
				return "", errSynth
			}
			return b, nil
		})
	}
	call()
	call()
	tried = nil
	call()
	if !slices.Equal(tried, []string{"elevenlabs"}) {
		t.Errorf("tried = %v, want only elevenlabs once openai's breaker opened", tried)
	}
}

func TestCall_CancellationStopsWalk(t *testing.T) {
	t.Parallel()

	c := NewChain("openai", "openai", BreakerConfig{})
	c.Add("elevenlabs", "elevenlabs")

	var tried []string
	_, err := Call(c, func(b string) (int, error) {
		tried = append(tried, b)
		return 0, context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrExhausted) {
		t.Fatalf("Call() error = %v, want bare context.Canceled", err)
	}
	if !slices.Equal(tried, []string{"openai"}) {
		t.Errorf("tried = %v, want only openai", tried)
	}
}

func TestChain_Names(t *testing.T) {
	t.Parallel()

	c := NewChain(1, "openai", BreakerConfig{})
	c.Add("elevenlabs", 2)
	if got := c.Names(); !slices.Equal(got, []string{"openai", "elevenlabs"}) {
		t.Errorf("Names() = %v", got)
	}
}
