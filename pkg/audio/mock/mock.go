// Package mock provides an in-memory implementation of [playback.Player] for
// use in unit tests.
//
// The mock is safe for concurrent use. It records every clip it was asked to
// play and exposes fields that control how Play behaves.
//
// Typical usage:
//
//	p := &mock.Player{Started: make(chan audio.Clip, 4)}
//	q := playback.New(p)
//	q.Enqueue(playback.Item{Source: playback.Source{Data: pcm}})
//	clip := <-p.Started
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dialcoach/pkg/audio"
)

// Player is a mock playback device.
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by every Play call that is not cancelled.
	PlayErr error

	// Started, when non-nil, receives each clip as Play begins. Play blocks
	// on the send, so use a buffered channel if the test does not drain it.
	Started chan audio.Clip

	// Hold, when non-nil, makes Play block until it is closed or the context
	// is cancelled.
	Hold chan struct{}

	clips []audio.Clip
}

// Play records clip and behaves as configured by the exported fields.
func (p *Player) Play(ctx context.Context, clip audio.Clip) error {
	p.mu.Lock()
	p.clips = append(p.clips, clip)
	started, hold, err := p.Started, p.Hold, p.PlayErr
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- clip:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// SetHold replaces the Hold channel for subsequent Play calls.
func (p *Player) SetHold(ch chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Hold = ch
}

// Clips returns a copy of all clips passed to Play so far.
func (p *Player) Clips() []audio.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.Clip, len(p.clips))
	copy(out, p.clips)
	return out
}
