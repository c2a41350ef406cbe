// Package mock provides a test double for the progress.Sink interface.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/dialcoach/pkg/progress"
)

// Compile-time interface assertion.
var _ progress.Sink = (*Sink)(nil)

// Sink records every submitted report.
type Sink struct {
	mu      sync.Mutex
	reports []progress.Report
	done    chan struct{}

	// Err, if non-nil, is returned from Submit after recording.
	Err error
}

// Submit records a copy of r and returns Err.
func (s *Sink) Submit(_ context.Context, r progress.Report) error {
	r.Entries = slices.Clone(r.Entries)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	return s.Err
}

// Reports returns a copy of all recorded reports.
func (s *Sink) Reports() []progress.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.reports)
}

// Submitted returns a channel that is closed once the next report arrives,
// or immediately if one has already been recorded.
func (s *Sink) Submitted() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reports) > 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	if s.done == nil {
		s.done = make(chan struct{})
	}
	return s.done
}
