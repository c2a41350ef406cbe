package ending

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/dialcoach/internal/turn"
	"github.com/MrWong99/dialcoach/pkg/audio/playback"
)

// Terminator plays the disconnect tone after the ending utterance finished
// and then signals termination exactly once.
type Terminator struct {
	queue turn.Enqueuer
	tone  []byte

	armOnce  sync.Once
	doneOnce sync.Once
	done     chan struct{}
}

// NewTerminator returns a Terminator that plays tone on queue.
func NewTerminator(queue turn.Enqueuer, tone []byte) *Terminator {
	return &Terminator{queue: queue, tone: tone, done: make(chan struct{})}
}

// After waits in the background for outcome. When the triggering turn
// completed naturally, the tone is enqueued and [Terminator.Done] closes once
// it ended. A superseded turn or a cancelled ctx leaves the terminator armed
// for a later call.
func (t *Terminator) After(ctx context.Context, outcome <-chan turn.Outcome) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case o := <-outcome:
			if o != turn.OutcomeCompleted {
				slog.Debug("ending: triggering turn superseded, not terminating", "outcome", o.String())
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		t.playTone()
	}()
}

// Done is closed once the tone finished playing.
func (t *Terminator) Done() <-chan struct{} { return t.done }

func (t *Terminator) playTone() {
	t.armOnce.Do(func() {
		t.queue.Enqueue(playback.Item{
			ID:     "disconnect-tone",
			Source: playback.Source{Data: t.tone},
			OnEnd:  t.signal,
		})
	})
}

func (t *Terminator) signal() {
	t.doneOnce.Do(func() { close(t.done) })
}
