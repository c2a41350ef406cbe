// Package turn tracks which party of the conversation holds the floor.
//
// The [Machine] has four states. Counterpart responses are handed to the
// machine together with the turn id they answer; the machine enqueues them on
// the playback queue and lets the queue's callbacks drive the speaking
// transitions. Every callback is tagged with its turn id, so a callback that
// fires after a newer turn began (or after [Machine.Reset]) is dropped.
//
// Detected user speech never interrupts the counterpart: a speech start while
// the counterpart is speaking, or while its accepted response is waiting to
// play, is ignored.
package turn

import (
	"sync"

	"github.com/MrWong99/dialcoach/pkg/audio/playback"
)

// State is the conversational turn state.
type State int

const (
	// Idle means nobody holds the floor.
	Idle State = iota

	// UserTalking means the user is speaking.
	UserTalking

	// AIThinking means the counterpart owes a response.
	AIThinking

	// AISpeaking means the counterpart's response is playing.
	AISpeaking
)

// String returns the upper-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case UserTalking:
		return "USER_TALKING"
	case AIThinking:
		return "AI_THINKING"
	case AISpeaking:
		return "AI_SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// Cause names the event that produced a [Transition].
type Cause string

const (
	CauseUserSpeechStart Cause = "user_speech_start"
	CauseUserSpeechEnd   Cause = "user_speech_end"
	CauseRequest         Cause = "request_response"
	CausePlaybackStart   Cause = "playback_start"
	CausePlaybackEnd     Cause = "playback_end"
	CauseReset           Cause = "reset"
)

// Transition describes one state change.
type Transition struct {
	From   State
	To     State
	TurnID uint64
	Cause  Cause
}

// Outcome is the final fate of a counterpart turn.
type Outcome int

const (
	// OutcomeCompleted means the turn's response finished playing.
	OutcomeCompleted Outcome = iota

	// OutcomeSuperseded means a newer turn or a reset replaced the turn
	// before its response finished.
	OutcomeSuperseded
)

// String returns the outcome name.
func (o Outcome) String() string {
	if o == OutcomeCompleted {
		return "completed"
	}
	return "superseded"
}

// Enqueuer is the subset of [playback.Queue] the machine drives.
type Enqueuer interface {
	Enqueue(item playback.Item) string
	Clear(cancelCurrent bool)
}

// Compile-time interface assertion.
var _ Enqueuer = (*playback.Queue)(nil)

// Machine is the turn state machine. All methods are safe for concurrent use.
// Subscribers are invoked outside the machine's lock, one transition at a
// time and in the order the transitions happened.
type Machine struct {
	queue Enqueuer

	mu        sync.Mutex
	state     State
	turnID    uint64
	responded bool // a response was accepted for turnID
	completed uint64

	waiters map[uint64][]chan Outcome

	subs    map[int]func(Transition)
	nextSub int

	outbox   []Transition
	flushing bool
}

// New returns a Machine in [Idle] that enqueues responses on queue.
func New(queue Enqueuer) *Machine {
	return &Machine{
		queue:   queue,
		waiters: make(map[uint64][]chan Outcome),
		subs:    make(map[int]func(Transition)),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TurnID returns the id of the most recent counterpart turn. It is zero until
// the first turn begins.
func (m *Machine) TurnID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turnID
}

// IsBusy reports whether the counterpart owes or is delivering a response.
func (m *Machine) IsBusy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == AIThinking || m.state == AISpeaking
}

// Subscribe registers fn for every subsequent transition and returns a
// function that removes it.
func (m *Machine) Subscribe(fn func(Transition)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// UserSpeechStart records that the user started talking. It applies in [Idle]
// and in [AIThinking] before a response was accepted; the abandoned turn is
// superseded.
func (m *Machine) UserSpeechStart() bool {
	m.mu.Lock()
	switch {
	case m.state == Idle:
	case m.state == AIThinking && !m.responded:
		m.supersedeLocked(m.turnID)
	default:
		m.mu.Unlock()
		return false
	}
	m.setLocked(UserTalking, CauseUserSpeechStart)
	m.mu.Unlock()
	m.flush()
	return true
}

// UserSpeechEnd records that the user stopped talking and opens a new
// counterpart turn. Late or duplicate end signals are ignored.
func (m *Machine) UserSpeechEnd() bool {
	m.mu.Lock()
	if m.state != UserTalking {
		m.mu.Unlock()
		return false
	}
	m.beginTurnLocked()
	m.setLocked(AIThinking, CauseUserSpeechEnd)
	m.mu.Unlock()
	m.flush()
	return true
}

// RequestResponse opens a counterpart turn without preceding user speech, as
// for a greeting or a silence prompt. It only applies in [Idle].
func (m *Machine) RequestResponse() bool {
	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return false
	}
	m.beginTurnLocked()
	m.setLocked(AIThinking, CauseRequest)
	m.mu.Unlock()
	m.flush()
	return true
}

// ResponseReady enqueues item as the response of turn turnID. The response is
// dropped unless the machine is still in [AIThinking] for that turn and no
// other response was accepted for it. The item's own callbacks run after the
// machine's.
func (m *Machine) ResponseReady(turnID uint64, item playback.Item) bool {
	m.mu.Lock()
	if m.state != AIThinking || turnID != m.turnID || m.responded {
		m.mu.Unlock()
		return false
	}
	m.responded = true
	m.mu.Unlock()

	onStart, onEnd := item.OnStart, item.OnEnd
	item.OnStart = func() {
		m.playbackStarted(turnID)
		if onStart != nil {
			onStart()
		}
	}
	item.OnEnd = func() {
		m.playbackEnded(turnID)
		if onEnd != nil {
			onEnd()
		}
	}
	m.queue.Enqueue(item)
	return true
}

// Reset aborts all playback, supersedes the current turn and returns to
// [Idle].
func (m *Machine) Reset() {
	m.queue.Clear(true)

	m.mu.Lock()
	m.supersedeLocked(m.turnID)
	m.turnID++
	m.responded = false
	if m.state != Idle {
		m.setLocked(Idle, CauseReset)
	}
	m.mu.Unlock()
	m.flush()
}

// Wait returns a channel that yields the outcome of turn turnID exactly once.
// Turns that already ended yield immediately.
func (m *Machine) Wait(turnID uint64) <-chan Outcome {
	ch := make(chan Outcome, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case turnID == m.completed && turnID != 0:
		ch <- OutcomeCompleted
	case turnID != m.turnID || turnID == 0:
		ch <- OutcomeSuperseded
	default:
		m.waiters[turnID] = append(m.waiters[turnID], ch)
	}
	return ch
}

func (m *Machine) playbackStarted(turnID uint64) {
	m.mu.Lock()
	if turnID != m.turnID || m.state != AIThinking {
		m.mu.Unlock()
		return
	}
	m.setLocked(AISpeaking, CausePlaybackStart)
	m.mu.Unlock()
	m.flush()
}

func (m *Machine) playbackEnded(turnID uint64) {
	m.mu.Lock()
	if turnID != m.turnID || (m.state != AISpeaking && m.state != AIThinking) {
		m.mu.Unlock()
		return
	}
	m.completed = turnID
	m.resolveLocked(turnID, OutcomeCompleted)
	m.setLocked(Idle, CausePlaybackEnd)
	m.mu.Unlock()
	m.flush()
}

// beginTurnLocked must be called with m.mu held.
func (m *Machine) beginTurnLocked() {
	m.supersedeLocked(m.turnID)
	m.turnID++
	m.responded = false
}

// supersedeLocked resolves every waiter up to and including upTo. Must be
// called with m.mu held.
func (m *Machine) supersedeLocked(upTo uint64) {
	for id := range m.waiters {
		if id <= upTo {
			m.resolveLocked(id, OutcomeSuperseded)
		}
	}
}

// resolveLocked must be called with m.mu held.
func (m *Machine) resolveLocked(turnID uint64, o Outcome) {
	for _, ch := range m.waiters[turnID] {
		ch <- o
	}
	delete(m.waiters, turnID)
}

// setLocked must be called with m.mu held.
func (m *Machine) setLocked(to State, cause Cause) {
	m.outbox = append(m.outbox, Transition{From: m.state, To: to, TurnID: m.turnID, Cause: cause})
	m.state = to
}

// flush delivers queued transitions. Only one goroutine delivers at a time;
// transitions queued meanwhile, including ones caused by a subscriber, are
// delivered by that goroutine in order.
func (m *Machine) flush() {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.outbox) > 0 {
		batch := m.outbox
		m.outbox = nil
		subs := make([]func(Transition), 0, len(m.subs))
		for id := 0; id < m.nextSub; id++ {
			if fn, ok := m.subs[id]; ok {
				subs = append(subs, fn)
			}
		}
		m.mu.Unlock()
		for _, tr := range batch {
			for _, fn := range subs {
				fn(tr)
			}
		}
		m.mu.Lock()
	}
	m.flushing = false
	m.mu.Unlock()
}
