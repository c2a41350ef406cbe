package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/dialcoach/pkg/clock"
	"github.com/MrWong99/dialcoach/pkg/provider/realtime"
)

// Default dial parameters.
const (
	defaultMaxRetries = 5
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 15 * time.Second
)

// DialConfig configures [Dial].
type DialConfig struct {
	// MaxRetries is the number of attempts after the first one fails.
	// Defaults to 5 if zero. Negative disables retries.
	MaxRetries int

	// Backoff is the initial wait between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the wait. Defaults to 15s if zero.
	MaxBackoff time.Duration

	// Clock paces the backoff. Defaults to [clock.Real].
	Clock clock.Clock
}

func (c DialConfig) withDefaults() DialConfig {
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = defaultMaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	return c
}

// Dial opens a realtime channel, retrying with exponential backoff. A
// session is never resumed once its channel closed; Dial only covers the
// initial connect.
func Dial(ctx context.Context, p realtime.Provider, sc realtime.SessionConfig, dc DialConfig) (realtime.Channel, error) {
	dc = dc.withDefaults()
	backoff := dc.Backoff

	var lastErr error
	for attempt := 0; attempt <= dc.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Info("session: retrying realtime connect",
				"attempt", attempt,
				"max_retries", dc.MaxRetries,
				"backoff", backoff,
			)
			if err := sleep(ctx, dc.Clock, backoff); err != nil {
				return nil, fmt.Errorf("session: dial: %w", err)
			}
			backoff *= 2
			if backoff > dc.MaxBackoff {
				backoff = dc.MaxBackoff
			}
		}

		ch, err := p.Connect(ctx, sc)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		slog.Warn("session: realtime connect failed", "attempt", attempt, "err", err)

		if ctx.Err() != nil {
			return nil, fmt.Errorf("session: dial: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("session: dial: giving up after %d attempts: %w", dc.MaxRetries+1, lastErr)
}

// sleep waits d on clk or until ctx is done.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	fired := make(chan struct{})
	t := clk.AfterFunc(d, func() { close(fired) })
	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}
