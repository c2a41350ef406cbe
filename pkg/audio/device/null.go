package device

import (
	"context"
	"time"

	"github.com/MrWong99/dialcoach/pkg/audio"
)

// Null discards audio but paces playback by the clip's duration so that turn
// timing behaves as it would on real hardware.
type Null struct {
	// Speedup divides the wait time. Values <= 1 play in real time.
	Speedup float64
}

// Play implements [playback.Player].
func (n Null) Play(ctx context.Context, clip audio.Clip) error {
	d := clip.Duration()
	if n.Speedup > 1 {
		d = time.Duration(float64(d) / n.Speedup)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
