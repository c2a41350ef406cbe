package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/dialcoach/internal/config"
	"github.com/MrWong99/dialcoach/internal/observe"
	"github.com/MrWong99/dialcoach/internal/script"
	"github.com/MrWong99/dialcoach/internal/session"
	"github.com/MrWong99/dialcoach/pkg/audio"
	"github.com/MrWong99/dialcoach/pkg/audio/playback"
	"github.com/MrWong99/dialcoach/pkg/clock"
	"github.com/MrWong99/dialcoach/pkg/progress"
	"github.com/MrWong99/dialcoach/pkg/provider/realtime"
)

var (
	// ErrSessionActive is returned by [SessionManager.Start] while another
	// session is starting or running.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned by [SessionManager.Stop] when nothing runs.
	ErrNoSession = errors.New("app: no active session")
)

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Scenario  string    `json:"scenario,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Status is the JSON body served for the session resource.
type Status struct {
	Active bool              `json:"active"`
	Info   *SessionInfo      `json:"info,omitempty"`
	Live   *session.Snapshot `json:"live,omitempty"`
	Last   *progress.Report  `json:"last,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// running is one started session and the resources it owns.
type running struct {
	info   SessionInfo
	sess   *session.Session
	ch     realtime.Channel
	queue  *playback.Queue
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// SessionManager runs at most one rehearsal session at a time. All exported
// methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	starting bool
	active   *running
	last     *progress.Report
	lastErr  error
	conv     config.ConversationConfig

	// live mirrors active for the audio thread.
	live atomic.Pointer[running]

	providers *Providers
	format    audio.Format
	clk       clock.Clock
	metrics   *observe.Metrics
	dial      session.DialConfig
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Providers    *Providers
	Conversation config.ConversationConfig

	// Format is the PCM format exchanged with the audio device and the
	// realtime provider.
	Format audio.Format

	// Clock drives every session timer. Defaults to the wall clock.
	Clock clock.Clock

	Metrics *observe.Metrics
	Dial    session.DialConfig
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		providers: cfg.Providers,
		conv:      cfg.Conversation,
		format:    cfg.Format,
		clk:       cfg.Clock,
		metrics:   cfg.Metrics,
		dial:      cfg.Dial,
	}
	if !sm.format.Valid() {
		sm.format = audio.Format{SampleRate: config.DefaultSampleRate, Channels: 1}
	}
	if sm.clk == nil {
		sm.clk = clock.Real{}
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.dial.Clock == nil {
		sm.dial.Clock = sm.clk
	}
	return sm
}

// SetConversation replaces the conversation tuning used by the next session.
// A running session keeps the settings it started with.
func (sm *SessionManager) SetConversation(c config.ConversationConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.conv = c
}

// Start dials the realtime provider and runs a new session in the
// background. ctx bounds only the dial; the session itself runs until it
// ends on its own or [SessionManager.Stop] is called.
func (sm *SessionManager) Start(ctx context.Context) (SessionInfo, error) {
	sm.mu.Lock()
	if sm.starting || sm.active != nil {
		sm.mu.Unlock()
		return SessionInfo{}, ErrSessionActive
	}
	sm.starting = true
	conv := sm.conv
	sm.mu.Unlock()

	r, err := sm.start(ctx, conv)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.starting = false
	if err != nil {
		sm.lastErr = err
		return SessionInfo{}, err
	}
	sm.active = r
	sm.live.Store(r)
	go sm.run(r)

	slog.Info("session started",
		"session_id", r.info.SessionID,
		"scenario", r.info.Scenario,
	)
	return r.info, nil
}

// start loads the scenario, dials the channel and assembles the session.
func (sm *SessionManager) start(ctx context.Context, conv config.ConversationConfig) (*running, error) {
	var sc *script.Scenario
	if conv.Scenario != "" {
		var err error
		sc, err = script.Load(conv.Scenario)
		if err != nil {
			return nil, fmt.Errorf("app: load scenario: %w", err)
		}
	}

	rc := realtime.SessionConfig{
		Instructions: conv.Instructions,
		SampleRate:   sm.format.SampleRate,
	}
	if sc != nil {
		rc.Voice = sc.Voice
		if rc.Instructions == "" {
			rc.Instructions = sc.Instructions
		}
	}

	ch, err := session.Dial(ctx, sm.providers.Realtime, rc, sm.dial)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	queue := playback.New(sm.providers.Player,
		playback.WithFormat(sm.format),
		playback.WithStatusHook(sm.onPlayback),
	)

	sess, err := session.New(conv.SessionConfig(), session.Deps{
		Channel: ch,
		Synth:   sm.providers.TTS,
		Queue:   queue,
		Clock:   sm.clk,
		Script:  sc,
		Sink:    sm.providers.Sink,
		Metrics: sm.metrics,
	})
	if err != nil {
		_ = queue.Close()
		_ = ch.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	// The session outlives the dial context but keeps its values.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &running{
		info: SessionInfo{
			SessionID: sess.ID(),
			StartedAt: time.Now().UTC(),
		},
		sess:   sess,
		ch:     ch,
		queue:  queue,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if sc != nil {
		r.info.Scenario = sc.Name
	}
	return r, nil
}

// run drives r to completion and records its outcome.
func (sm *SessionManager) run(r *running) {
	defer r.cancel()
	report, err := r.sess.Run(r.ctx)
	if cerr := r.queue.Close(); cerr != nil {
		slog.Debug("playback queue close", "session_id", r.info.SessionID, "err", cerr)
	}

	sm.mu.Lock()
	sm.active = nil
	sm.live.Store(nil)
	sm.last = &report
	sm.lastErr = err
	sm.mu.Unlock()

	if err != nil {
		slog.Warn("session failed", "session_id", r.info.SessionID, "err", err)
	}
	close(r.done)
}

func (sm *SessionManager) onPlayback(itemID string, s playback.Status, err error) {
	sm.metrics.RecordPlayback(context.Background(), s.String())
	if err != nil {
		slog.Debug("playback item failed", "item_id", itemID, "status", s.String(), "err", err)
	}
}

// Stop cancels the active session and waits for its report to be
// submitted, or for ctx to expire.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	r := sm.active
	sm.mu.Unlock()
	if r == nil {
		return ErrNoSession
	}

	r.cancel()
	select {
	case <-r.done:
		slog.Info("session stopped", "session_id", r.info.SessionID)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: stop session: %w", ctx.Err())
	}
}

// Wait blocks until the active session ends or ctx expires. It returns
// immediately when no session runs.
func (sm *SessionManager) Wait(ctx context.Context) error {
	sm.mu.Lock()
	r := sm.active
	sm.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Feed forwards captured microphone audio to the active session's channel.
// It is called from the audio thread and never blocks on the manager lock.
func (sm *SessionManager) Feed(pcm []byte) {
	r := sm.live.Load()
	if r == nil {
		return
	}
	if err := r.ch.SendAudio(pcm); err != nil {
		slog.Debug("send audio", "session_id", r.info.SessionID, "err", err)
	}
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active != nil
}

// Info returns the active session's metadata, or the zero value.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil {
		return SessionInfo{}
	}
	return sm.active.info
}

// Status returns the live snapshot of the active session, if any, and the
// report of the last finished one.
func (sm *SessionManager) Status() Status {
	sm.mu.Lock()
	r := sm.active
	st := Status{Active: r != nil, Last: sm.last}
	if sm.lastErr != nil {
		st.Error = sm.lastErr.Error()
	}
	sm.mu.Unlock()

	if r != nil {
		info := r.info
		snap := r.sess.Snapshot()
		st.Info = &info
		st.Live = &snap
	}
	return st
}

// Healthy reports the failure of the most recent session start or run when
// no session is active. A running session is always healthy.
func (sm *SessionManager) Healthy(context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active != nil || sm.lastErr == nil {
		return nil
	}
	return sm.lastErr
}
