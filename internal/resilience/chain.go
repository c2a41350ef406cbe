package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned when every backend in a [Chain] failed or was
// rejected by its breaker. It wraps the last backend error.
var ErrExhausted = errors.New("resilience: all backends failed")

// link is one backend and the breaker guarding it.
type link[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// Chain is an ordered list of interchangeable backends. Calls go to the first
// backend whose breaker admits them; a failure moves on to the next one.
//
// Backends are registered during setup. Calls are safe for concurrent use
// once setup is done.
type Chain[T any] struct {
	links []link[T]
	cfg   BreakerConfig
}

// NewChain returns a chain with primary as its first backend. Every backend
// gets its own breaker built from cfg, named after the backend.
func NewChain[T any](primary T, name string, cfg BreakerConfig) *Chain[T] {
	c := &Chain[T]{cfg: cfg}
	c.Add(name, primary)
	return c
}

// Add appends a backend tried after all earlier ones.
func (c *Chain[T]) Add(name string, backend T) {
	bc := c.cfg
	bc.Name = name
	c.links = append(c.links, link[T]{name: name, backend: backend, breaker: NewBreaker(bc)})
}

// Names lists the backends in call order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.links))
	for i, l := range c.links {
		names[i] = l.name
	}
	return names
}

// Call runs fn against the chain's backends in order and returns the first
// successful result. A cancelled call ends the walk and returns the
// cancellation unwrapped.
func Call[T, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range c.links {
		l := &c.links[i]
		var out R
		err := l.breaker.Do(func() error {
			var err error
			out, err = fn(l.backend)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, context.Canceled):
			return zero, err
		case errors.Is(err, ErrOpen):
			slog.Debug("backend skipped, breaker open", "backend", l.name)
		default:
			slog.Warn("backend failed", "backend", l.name, "err", err, "remaining", len(c.links)-i-1)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}
