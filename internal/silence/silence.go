// Package silence escalates prolonged user silence.
//
// The [Protocol] owns a single timer. [Protocol.Arm] (re)schedules it after
// the user stopped talking or the counterpart finished, and
// [Protocol.OnUserSpeech] resets the escalation. The first firing that finds
// the user silent long enough emits a gentle nudge. The next emits a terminal
// prompt asking the counterpart to end the call, after which the protocol goes
// quiet for good.
package silence

import (
	"sync"
	"time"

	"github.com/MrWong99/dialcoach/pkg/clock"
)

// Prompt is an escalation emitted by the protocol.
type Prompt struct {
	// Level is the escalation level after this prompt (1, 2, ...).
	Level int

	// Instruction is injected into the conversation as a synthetic user
	// message.
	Instruction string

	// Terminal reports that the counterpart is being asked to end the call.
	Terminal bool
}

// Config holds the protocol's timing and wording.
type Config struct {
	// FirstDelay is the timer duration while no prompt has been issued.
	FirstDelay time.Duration `yaml:"first_delay"`

	// FirstThreshold is the silence FirstDelay must actually have produced.
	FirstThreshold time.Duration `yaml:"first_threshold"`

	// RepeatDelay is the timer duration once a prompt has been issued.
	RepeatDelay time.Duration `yaml:"repeat_delay"`

	// RepeatThreshold is the silence RepeatDelay must actually have produced.
	RepeatThreshold time.Duration `yaml:"repeat_threshold"`

	// TerminalLevel is the level at which the prompt ends the call.
	TerminalLevel int `yaml:"terminal_level"`

	// Nudge is the instruction for non-terminal levels.
	Nudge string `yaml:"nudge"`

	// Dismiss is the instruction for the terminal level.
	Dismiss string `yaml:"dismiss"`
}

// DefaultConfig returns the two-strike policy: a nudge after 5s, a hang-up
// 15s later.
func DefaultConfig() Config {
	return Config{
		FirstDelay:      5 * time.Second,
		FirstThreshold:  4500 * time.Millisecond,
		RepeatDelay:     15 * time.Second,
		RepeatThreshold: 14500 * time.Millisecond,
		TerminalLevel:   2,
		Nudge:           "The caller has gone quiet. Briefly and naturally ask whether they are still there.",
		Dismiss:         "The caller has still not answered. Say a brief, slightly annoyed goodbye and end the call.",
	}
}

// Gate reports whether the conversation is busy, in which case a firing is
// skipped.
type Gate func() bool

// Option configures a [Protocol].
type Option func(*Protocol)

// WithConfig overrides [DefaultConfig].
func WithConfig(cfg Config) Option {
	return func(p *Protocol) { p.cfg = cfg }
}

// WithGate installs the busy gate.
func WithGate(g Gate) Option {
	return func(p *Protocol) { p.gate = g }
}

// Protocol is the silence escalation state machine. All methods are safe for
// concurrent use. The emit callback runs on the timer's goroutine without the
// protocol's lock held.
type Protocol struct {
	clk  clock.Clock
	cfg  Config
	gate Gate
	emit func(Prompt)

	mu         sync.Mutex
	level      int
	lastSpeech time.Time
	armedAt    time.Time
	timer      clock.Timer
	gen        uint64
	finished   bool
}

// New returns a Protocol that reports escalations to emit.
func New(clk clock.Clock, emit func(Prompt), opts ...Option) *Protocol {
	p := &Protocol{clk: clk, cfg: DefaultConfig(), emit: emit}
	for _, o := range opts {
		o(p)
	}
	if p.cfg.TerminalLevel < 1 {
		p.cfg.TerminalLevel = 1
	}
	return p
}

// Level returns the current escalation level.
func (p *Protocol) Level() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Finished reports whether the terminal prompt was emitted.
func (p *Protocol) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// OnUserSpeech resets the escalation level and cancels the pending timer.
func (p *Protocol) OnUserSpeech() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = 0
	p.lastSpeech = p.clk.Now()
	p.cancelLocked()
}

// Arm (re)schedules the single timer for the current level. It is a no-op
// once the terminal prompt was emitted.
func (p *Protocol) Arm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armLocked(p.clk.Now())
}

// Stop cancels the pending timer. A later Arm schedules it again.
func (p *Protocol) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
}

// armLocked must be called with p.mu held.
func (p *Protocol) armLocked(from time.Time) {
	p.cancelLocked()
	if p.finished {
		return
	}
	p.armedAt = from
	gen := p.gen
	p.timer = p.clk.AfterFunc(p.delayLocked(), func() { p.fire(gen) })
}

// cancelLocked must be called with p.mu held.
func (p *Protocol) cancelLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Protocol) delayLocked() time.Duration {
	if p.level == 0 {
		return p.cfg.FirstDelay
	}
	return p.cfg.RepeatDelay
}

func (p *Protocol) thresholdLocked() time.Duration {
	if p.level == 0 {
		return p.cfg.FirstThreshold
	}
	return p.cfg.RepeatThreshold
}

func (p *Protocol) fire(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.finished {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	now := p.clk.Now()

	if p.gate != nil {
		// The gate may call back into other components; do not hold the
		// lock across it.
		p.mu.Unlock()
		busy := p.gate()
		p.mu.Lock()
		if gen != p.gen || p.finished {
			p.mu.Unlock()
			return
		}
		if busy {
			p.armLocked(now)
			p.mu.Unlock()
			return
		}
	}

	since := p.armedAt
	if p.lastSpeech.After(since) {
		since = p.lastSpeech
	}
	if remaining := p.thresholdLocked() - now.Sub(since); remaining > 0 {
		p.cancelLocked()
		gen := p.gen
		p.timer = p.clk.AfterFunc(remaining, func() { p.fire(gen) })
		p.mu.Unlock()
		return
	}

	p.level++
	prompt := Prompt{Level: p.level, Instruction: p.cfg.Nudge}
	if p.level >= p.cfg.TerminalLevel {
		prompt.Instruction = p.cfg.Dismiss
		prompt.Terminal = true
		p.finished = true
		p.cancelLocked()
	} else {
		p.armLocked(now)
	}
	p.mu.Unlock()

	if p.emit != nil {
		p.emit(prompt)
	}
}
