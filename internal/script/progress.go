package script

import (
	"fmt"
	"sync"

	"github.com/MrWong99/dialcoach/pkg/types"
)

// Chunk is one expected line of the script.
type Chunk struct {
	Speaker types.Role
	Text    string
	Label   string
}

// AdvanceMode selects what moves the script forward.
type AdvanceMode string

const (
	// ModeMatch advances when a user utterance matches the current chunk.
	ModeMatch AdvanceMode = "match"

	// ModeTurn advances when the counterpart finishes a turn after the user
	// spoke.
	ModeTurn AdvanceMode = "turn"
)

// IsValid reports whether m is a recognised advance mode.
func (m AdvanceMode) IsValid() bool {
	return m == ModeMatch || m == ModeTurn
}

// ParseAdvanceMode returns the mode named s. The empty string selects
// [ModeMatch].
func ParseAdvanceMode(s string) (AdvanceMode, error) {
	if s == "" {
		return ModeMatch, nil
	}
	m := AdvanceMode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("script: unknown advance mode %q; valid values: match, turn", s)
	}
	return m, nil
}

// Progress tracks the current chunk. The index never decreases and stays in
// [0, len(chunks)-1]. Every advance requires that the user spoke since the
// previous advance. All methods are safe for concurrent use.
type Progress struct {
	chunks []Chunk
	mode   AdvanceMode
	cfg    MatchConfig

	mu        sync.Mutex
	index     int
	userSpoke bool
}

// NewProgress returns a Progress positioned on the first chunk. chunks is
// copied.
func NewProgress(chunks []Chunk, mode AdvanceMode, cfg MatchConfig) *Progress {
	c := make([]Chunk, len(chunks))
	copy(c, chunks)
	if !mode.IsValid() {
		mode = ModeMatch
	}
	return &Progress{chunks: c, mode: mode, cfg: cfg}
}

// Mode returns the advance mode.
func (p *Progress) Mode() AdvanceMode { return p.mode }

// Len returns the number of chunks.
func (p *Progress) Len() int { return len(p.chunks) }

// Index returns the current position.
func (p *Progress) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// Current returns the chunk at the current position. ok is false when the
// script is empty.
func (p *Progress) Current() (c Chunk, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chunks) == 0 {
		return Chunk{}, false
	}
	return p.chunks[p.index], true
}

// NoteUserSpoke records that the user said something since the last
// counterpart turn.
func (p *Progress) NoteUserSpoke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userSpoke = true
}

// OfferUtterance advances by one chunk when the mode is [ModeMatch], the user
// spoke and text matches the current chunk. It reports whether the index
// moved.
func (p *Progress) OfferUtterance(text string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != ModeMatch || !p.userSpoke || len(p.chunks) == 0 {
		return false
	}
	if !ShouldAdvanceWith(p.cfg, p.chunks[p.index].Text, text) {
		return false
	}
	return p.advanceLocked()
}

// CounterpartTurnDone advances by one chunk when the mode is [ModeTurn] and
// the user spoke since the previous advance. It reports whether the index
// moved.
func (p *Progress) CounterpartTurnDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != ModeTurn || !p.userSpoke || len(p.chunks) == 0 {
		return false
	}
	return p.advanceLocked()
}

// advanceLocked must be called with p.mu held.
func (p *Progress) advanceLocked() bool {
	p.userSpoke = false
	if p.index >= len(p.chunks)-1 {
		return false
	}
	p.index++
	return true
}
