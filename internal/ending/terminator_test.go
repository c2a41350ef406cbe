package ending_test

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/dialcoach/internal/ending"
	"github.com/MrWong99/dialcoach/internal/turn"
	"github.com/MrWong99/dialcoach/pkg/audio/mock"
	"github.com/MrWong99/dialcoach/pkg/audio/playback"
)

func newTerminator(t *testing.T) (*ending.Terminator, *mock.Player) {
	t.Helper()
	tone, err := ending.Tone(ending.DefaultTone())
	if err != nil {
		t.Fatalf("Tone: %v", err)
	}
	player := &mock.Player{}
	q := playback.New(player)
	t.Cleanup(func() { q.Close() })
	return ending.NewTerminator(q, tone), player
}

func TestTerminator_CompletedTurn(t *testing.T) {
	t.Parallel()

	term, player := newTerminator(t)
	outcome := make(chan turn.Outcome, 1)
	term.After(context.Background(), outcome)

	select {
	case <-term.Done():
		t.Fatal("terminated before the turn completed")
	case <-time.After(20 * time.Millisecond):
	}

	outcome <- turn.OutcomeCompleted
	select {
	case <-term.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after the tone")
	}
	if n := len(player.Clips()); n != 1 {
		t.Errorf("played %d clips, want the tone once", n)
	}
}

func TestTerminator_SupersededTurn(t *testing.T) {
	t.Parallel()

	term, player := newTerminator(t)
	outcome := make(chan turn.Outcome, 1)
	outcome <- turn.OutcomeSuperseded
	term.After(context.Background(), outcome)

	select {
	case <-term.Done():
		t.Fatal("terminated after a superseded turn")
	case <-time.After(50 * time.Millisecond):
	}
	if n := len(player.Clips()); n != 0 {
		t.Errorf("played %d clips, want none", n)
	}
}

func TestTerminator_FiresOnce(t *testing.T) {
	t.Parallel()

	term, player := newTerminator(t)
	for range 3 {
		outcome := make(chan turn.Outcome, 1)
		outcome <- turn.OutcomeCompleted
		term.After(context.Background(), outcome)
	}

	select {
	case <-term.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed")
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(player.Clips()); n != 1 {
		t.Errorf("played %d clips, want 1", n)
	}
}

func TestTerminator_Cancelled(t *testing.T) {
	t.Parallel()

	term, _ := newTerminator(t)
	ctx, cancel := context.WithCancel(context.Background())
	outcome := make(chan turn.Outcome, 1)
	term.After(ctx, outcome)
	cancel()
	outcome <- turn.OutcomeCompleted

	select {
	case <-term.Done():
		t.Fatal("terminated after cancellation")
	case <-time.After(50 * time.Millisecond):
	}
}
