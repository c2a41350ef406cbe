// Package clock abstracts wall-clock reads and one-shot timers so that
// timer-driven conversation logic (silence escalation, greeting grace period,
// transcript timestamps) can be driven by a virtual clock in tests.
package clock

import "time"

// Timer is a pending one-shot callback created by [Clock.AfterFunc].
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer has
	// already fired or been stopped.
	Stop() bool
}

// Clock provides the current time and schedules callbacks.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine (or, for virtual clocks, on the
	// goroutine that advances time) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the [Clock] backed by package time.
type Real struct{}

// Compile-time interface assertion.
var _ Clock = Real{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
