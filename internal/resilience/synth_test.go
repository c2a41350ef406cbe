package resilience_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/dialcoach/internal/resilience"
	"github.com/MrWong99/dialcoach/pkg/clock/fake"
	ttsmock "github.com/MrWong99/dialcoach/pkg/provider/tts/mock"
	"github.com/MrWong99/dialcoach/pkg/types"
)

func TestSynthChain_PrefersPrimary(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Audio: []byte("primary-audio")}
	secondary := &ttsmock.Provider{Audio: []byte("fallback-audio")}
	sc := resilience.NewSynthChain(primary, "openai", resilience.BreakerConfig{})
	sc.Add("elevenlabs", secondary)

	voice := types.VoiceProfile{ID: "alloy", Provider: "openai"}
	got, err := sc.Synthesize(context.Background(), "hello", voice)
	if err != nil || string(got) != "primary-audio" {
		t.Fatalf("Synthesize() = %q, %v; want primary-audio", got, err)
	}
	if len(primary.Calls) != 1 || primary.Calls[0].Voice != voice {
		t.Errorf("primary calls = %+v, want one call with the voice", primary.Calls)
	}
	if len(secondary.Calls) != 0 {
		t.Errorf("secondary called %d times, want 0", len(secondary.Calls))
	}
}

func TestSynthChain_FailsOver(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Err: errors.New("primary down")}
	sc := resilience.NewSynthChain(primary, "openai", resilience.BreakerConfig{})
	sc.Add("elevenlabs", &ttsmock.Provider{Audio: []byte("fallback-audio")})

	got, err := sc.Synthesize(context.Background(), "hello", types.VoiceProfile{})
	if err != nil || string(got) != "fallback-audio" {
		t.Fatalf("Synthesize() = %q, %v; want fallback-audio", got, err)
	}
}

func TestSynthChain_OpenBreakerFailsFastThenRecovers(t *testing.T) {
	t.Parallel()

	clk := fake.New(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	primary := &ttsmock.Provider{Err: errors.New("primary down")}
	sc := resilience.NewSynthChain(primary, "openai", resilience.BreakerConfig{
		Threshold: 2,
		Cooldown:  time.Minute,
		Clock:     clk,
	})

	for range 2 {
		if _, err := sc.Synthesize(context.Background(), "hi", types.VoiceProfile{}); !errors.Is(err, resilience.ErrExhausted) {
			t.Fatalf("Synthesize() error = %v, want ErrExhausted", err)
		}
	}
	primary.Reset()

	if _, err := sc.Synthesize(context.Background(), "hi", types.VoiceProfile{}); !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("Synthesize() error = %v, want ErrOpen", err)
	}
	if len(primary.Calls) != 0 {
		t.Errorf("open breaker still called the backend %d times", len(primary.Calls))
	}

	clk.Advance(2 * time.Minute)
	primary.Err = nil
	primary.Audio = []byte("recovered")
	if got, err := sc.Synthesize(context.Background(), "hi", types.VoiceProfile{}); err != nil || string(got) != "recovered" {
		t.Errorf("after cooldown: %q, %v; want recovered", got, err)
	}
}

func TestSynthChain_CancelledDoesNotFallBack(t *testing.T) {
	t.Parallel()

	secondary := &ttsmock.Provider{Audio: []byte("fallback-audio")}
	sc := resilience.NewSynthChain(&ttsmock.Provider{Block: make(chan struct{})}, "openai", resilience.BreakerConfig{})
	sc.Add("elevenlabs", secondary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sc.Synthesize(ctx, "hi", types.VoiceProfile{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Synthesize() error = %v, want context.Canceled", err)
	}
	if len(secondary.Calls) != 0 {
		t.Error("cancelled synthesis fell back to the secondary")
	}
}

func TestSynthChain_Backends(t *testing.T) {
	t.Parallel()

	sc := resilience.NewSynthChain(&ttsmock.Provider{}, "openai", resilience.BreakerConfig{})
	sc.Add("elevenlabs", &ttsmock.Provider{})
	if got := sc.Backends(); !slices.Equal(got, []string{"openai", "elevenlabs"}) {
		t.Errorf("Backends() = %v", got)
	}
}
