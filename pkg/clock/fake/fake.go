// Package fake provides a virtual [clock.Clock] for tests.
//
// Time only moves when [Clock.Advance] is called. Due timers fire
// synchronously on the advancing goroutine in due-time order, so tests observe
// a deterministic sequence of callbacks. [Clock.SetEarlyFire] simulates
// scheduler jitter by letting timers fire a fixed amount before they are due.
package fake

import (
	"sync"
	"time"

	"github.com/MrWong99/dialcoach/pkg/clock"
)

// Compile-time interface assertion.
var _ clock.Clock = (*Clock)(nil)

// Clock is a manually advanced clock. It is safe for concurrent use.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	early  time.Duration
	seq    uint64
	timers map[uint64]*timer
}

type timer struct {
	c   *Clock
	id  uint64
	due time.Time
	f   func()
}

// New returns a virtual clock whose current time is start.
func New(start time.Time) *Clock {
	return &Clock{now: start, timers: make(map[uint64]*timer)}
}

// SetEarlyFire makes every timer fire d before its due time. Use it to
// exercise code that must tolerate timers firing slightly early.
func (c *Clock) SetEarlyFire(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.early = d
}

// Now returns the virtual time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once the virtual time reaches now+d.
func (c *Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{c: c, id: c.seq, due: c.now.Add(d), f: f}
	c.timers[t.id] = t
	return t
}

// Advance moves the virtual time forward by d, firing every timer that
// becomes due on the way. Callbacks run without the clock's lock held, so
// they may schedule or stop other timers.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		next := c.nextDueLocked(target)
		if next == nil {
			break
		}
		delete(c.timers, next.id)
		if at := next.due.Add(-c.early); at.After(c.now) {
			c.now = at
		}
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Pending returns the number of scheduled timers that have not fired or been
// stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// nextDueLocked returns the earliest timer whose (early-adjusted) fire time is
// at or before target. Ties are broken by creation order. Must be called with
// c.mu held.
func (c *Clock) nextDueLocked(target time.Time) *timer {
	var best *timer
	for _, t := range c.timers {
		if t.due.Add(-c.early).After(target) {
			continue
		}
		if best == nil || t.due.Before(best.due) || (t.due.Equal(best.due) && t.id < best.id) {
			best = t
		}
	}
	return best
}

// Stop removes the timer if it is still pending.
func (t *timer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if _, ok := t.c.timers[t.id]; !ok {
		return false
	}
	delete(t.c.timers, t.id)
	return true
}
