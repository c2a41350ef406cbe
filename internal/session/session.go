// Package session runs one rehearsal conversation.
//
// A [Session] owns the turn machine, the transcript reconciler, the script
// progress, the silence protocol and the call-ending logic for a single
// call. Inbound provider events, playback callbacks, timer firings and turn
// transitions are all funnelled into one event loop, so conversation logic
// has a single writer. Every failing step degrades to proceeding: a dropped
// synthesis skips the turn, a failed sink submit is logged, and nothing
// panics into the caller.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/dialcoach/internal/ending"
	"github.com/MrWong99/dialcoach/internal/observe"
	"github.com/MrWong99/dialcoach/internal/script"
	"github.com/MrWong99/dialcoach/internal/silence"
	"github.com/MrWong99/dialcoach/internal/speaker"
	"github.com/MrWong99/dialcoach/internal/transcript"
	"github.com/MrWong99/dialcoach/internal/turn"
	"github.com/MrWong99/dialcoach/pkg/audio/playback"
	"github.com/MrWong99/dialcoach/pkg/clock"
	"github.com/MrWong99/dialcoach/pkg/progress"
	"github.com/MrWong99/dialcoach/pkg/provider/realtime"
	"github.com/MrWong99/dialcoach/pkg/provider/tts"
	"github.com/MrWong99/dialcoach/pkg/types"
)

// ErrAlreadyRun is returned by [Session.Run] when called a second time.
var ErrAlreadyRun = errors.New("session: already run")

// Config tunes a session. Zero values of the nested configs are replaced by
// their package defaults.
type Config struct {
	// SessionID identifies the session in logs and reports. A random UUID is
	// used when empty.
	SessionID string

	// Reconciler configures duplicate and echo suppression.
	Reconciler transcript.Config

	// Silence configures the escalation protocol.
	Silence silence.Config

	// AdvanceMode selects how the script index moves. Defaults to
	// [script.ModeMatch].
	AdvanceMode script.AdvanceMode

	// Match tunes the script matcher in match mode.
	Match script.MatchConfig

	// EndingTail is the number of trailing characters searched for farewells.
	// Zero keeps the classifier default.
	EndingTail int

	// EndingShort is the length below which a single dismissal word ends the
	// call. Zero keeps the classifier default.
	EndingShort int

	// Tone shapes the disconnect tone.
	Tone ending.ToneConfig

	// GreetingDelay is how long to wait for anyone to speak before the
	// counterpart is asked to open the call. Zero or negative disables it.
	GreetingDelay time.Duration

	// ResponseTimeout abandons a turn whose response never arrives. Zero or
	// negative disables it.
	ResponseTimeout time.Duration

	// SubmitTimeout bounds the sink submit at teardown. Defaults to 10s.
	SubmitTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Reconciler:      transcript.DefaultConfig(),
		Silence:         silence.DefaultConfig(),
		AdvanceMode:     script.ModeMatch,
		Match:           script.DefaultMatchConfig(),
		Tone:            ending.DefaultTone(),
		GreetingDelay:   3 * time.Second,
		ResponseTimeout: 20 * time.Second,
		SubmitTimeout:   10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Reconciler == (transcript.Config{}) {
		c.Reconciler = d.Reconciler
	}
	if c.Silence == (silence.Config{}) {
		c.Silence = d.Silence
	}
	if c.AdvanceMode == "" {
		c.AdvanceMode = d.AdvanceMode
	}
	if c.Match == (script.MatchConfig{}) {
		c.Match = d.Match
	}
	if c.Tone == (ending.ToneConfig{}) {
		c.Tone = d.Tone
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	return c
}

// Deps are the collaborators of a session. Channel, Synth and Queue are
// required.
type Deps struct {
	// Channel is the open realtime session. The session closes it on exit.
	Channel realtime.Channel

	// Synth renders counterpart text to audio.
	Synth tts.Provider

	// Queue plays synthesized turns and the disconnect tone.
	Queue turn.Enqueuer

	// Clock drives every timer. Defaults to [clock.Real].
	Clock clock.Clock

	// Script is the rehearsed scenario. May be nil for free conversation.
	Script *script.Scenario

	// Sink receives the final report. Defaults to [progress.LogSink].
	Sink progress.Sink

	// Metrics records session instruments. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Snapshot is a point-in-time view of a running session.
type Snapshot struct {
	SessionID    string                  `json:"session_id"`
	Scenario     string                  `json:"scenario,omitempty"`
	State        string                  `json:"state"`
	Turn         uint64                  `json:"turn"`
	ScriptIndex  int                     `json:"script_index"`
	ScriptLen    int                     `json:"script_len"`
	SilenceLevel int                     `json:"silence_level"`
	Ending       bool                    `json:"ending"`
	Finished     bool                    `json:"finished"`
	Entries      []types.TranscriptEntry `json:"entries"`
}

// Session is one rehearsal conversation. Create it with [New] and drive it
// with [Session.Run].
type Session struct {
	cfg      Config
	id       string
	scenario string
	voice    types.VoiceProfile

	ch      realtime.Channel
	synth   tts.Provider
	clk     clock.Clock
	sink    progress.Sink
	metrics *observe.Metrics

	turns    *turn.Machine
	recon    *transcript.Reconciler
	prog     *script.Progress
	sil      *silence.Protocol
	speakers *speaker.Classifier
	endings  *ending.Classifier
	term     *ending.Terminator

	box     *mailbox
	running atomic.Bool

	// Read by Snapshot from other goroutines. view packs the last handled
	// turn id and state.
	view     atomic.Uint64
	ending   atomic.Bool
	finished atomic.Bool

	// Owned by the loop goroutine.
	ctx         context.Context
	log         *slog.Logger
	started     time.Time
	spoke       bool
	endingArmed bool
	greeting    clock.Timer
	watchdog    clock.Timer
}

// New builds a session from cfg and deps.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Channel == nil {
		return nil, errors.New("session: realtime channel is required")
	}
	if deps.Synth == nil {
		return nil, errors.New("session: tts provider is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("session: playback queue is required")
	}
	cfg = cfg.withDefaults()
	if !cfg.AdvanceMode.IsValid() {
		return nil, fmt.Errorf("session: invalid advance mode %q", cfg.AdvanceMode)
	}

	tone, err := ending.Tone(cfg.Tone)
	if err != nil {
		return nil, fmt.Errorf("session: render disconnect tone: %w", err)
	}

	s := &Session{
		cfg:     cfg,
		id:      cfg.SessionID,
		ch:      deps.Channel,
		synth:   deps.Synth,
		clk:     deps.Clock,
		sink:    deps.Sink,
		metrics: deps.Metrics,
		box:     newMailbox(),
		log:     slog.Default(),
		ctx:     context.Background(),
	}
	if s.clk == nil {
		s.clk = clock.Real{}
	}
	if s.sink == nil {
		s.sink = progress.LogSink{}
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	var chunks []script.Chunk
	if deps.Script != nil {
		s.scenario = deps.Script.Name
		s.voice = deps.Script.Voice
		chunks = deps.Script.Chunks()
	}

	var endOpts []ending.Option
	if cfg.EndingTail > 0 {
		endOpts = append(endOpts, ending.WithTailWindow(cfg.EndingTail))
	}
	if cfg.EndingShort > 0 {
		endOpts = append(endOpts, ending.WithShortLimit(cfg.EndingShort))
	}

	s.turns = turn.New(deps.Queue)
	s.recon = transcript.New(s.clk, cfg.Reconciler)
	s.prog = script.NewProgress(chunks, cfg.AdvanceMode, cfg.Match)
	s.sil = silence.New(s.clk, s.onSilencePrompt,
		silence.WithConfig(cfg.Silence),
		silence.WithGate(func() bool { return s.turns.State() != turn.Idle }),
	)
	s.speakers = speaker.New()
	s.endings = ending.NewClassifier(endOpts...)
	s.term = ending.NewTerminator(deps.Queue, tone)
	s.setView(0, turn.Idle)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Snapshot returns the current state of the session. Safe for concurrent
// use.
func (s *Session) Snapshot() Snapshot {
	v := s.view.Load()
	return Snapshot{
		SessionID:    s.id,
		Scenario:     s.scenario,
		State:        turn.State(v & 0xff).String(),
		Turn:         v >> 8,
		ScriptIndex:  s.prog.Index(),
		ScriptLen:    s.prog.Len(),
		SilenceLevel: s.sil.Level(),
		Ending:       s.ending.Load(),
		Finished:     s.finished.Load(),
		Entries:      s.recon.Entries(),
	}
}

// Run drives the conversation until ctx is cancelled, the counterpart ends
// the call or the realtime channel closes. The report is always returned; the
// error is non-nil only when the channel failed or Run was called twice.
func (s *Session) Run(ctx context.Context) (progress.Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return progress.Report{}, ErrAlreadyRun
	}

	ctx, span := observe.StartSpan(ctx, "session.run")
	defer span.End()

	s.ctx = ctx
	s.log = observe.SessionLogger(ctx, s.id)
	s.started = s.clk.Now()
	s.recon.Reset()

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	s.log.Info("session started", "scenario", s.scenario, "script_len", s.prog.Len(), "mode", s.prog.Mode())

	unsubscribe := s.turns.Subscribe(s.onTransition)
	s.armGreeting()

	reason, err := s.loop(ctx)
	unsubscribe()
	if err != nil {
		span.RecordError(err)
	}
	return s.teardown(ctx, reason), err
}

func (s *Session) loop(ctx context.Context) (progress.EndReason, error) {
	events := s.ch.Events()
	for {
		select {
		case <-ctx.Done():
			return progress.EndCancelled, nil
		case <-s.term.Done():
			return progress.EndCallEnded, nil
		case ev, ok := <-events:
			if !ok {
				if err := s.ch.Err(); err != nil {
					return progress.EndChannelClosed, fmt.Errorf("session: realtime channel: %w", err)
				}
				return progress.EndChannelClosed, nil
			}
			s.handleEvent(ev)
		case <-s.box.notify:
			for _, f := range s.box.drain() {
				f()
			}
		}
	}
}

func (s *Session) teardown(ctx context.Context, reason progress.EndReason) progress.Report {
	s.box.close()
	s.sil.Stop()
	stopTimer(&s.greeting)
	stopTimer(&s.watchdog)
	s.turns.Reset()
	if err := s.ch.Close(); err != nil {
		s.log.Debug("session: close realtime channel", "err", err)
	}
	s.finished.Store(true)
	s.setView(s.turns.TurnID(), turn.Idle)

	dur := s.clk.Now().Sub(s.started)
	report := progress.Report{
		SessionID:  s.id,
		Scenario:   s.scenario,
		StartedAt:  s.started,
		Duration:   dur,
		Entries:    s.recon.Entries(),
		FinalIndex: s.prog.Index(),
		ChunkCount: s.prog.Len(),
		EndReason:  reason,
	}

	bg := context.WithoutCancel(ctx)
	s.metrics.SessionDuration.Record(bg, dur.Seconds(),
		metric.WithAttributes(observe.Attr("end_reason", string(reason))))

	submitCtx, cancel := context.WithTimeout(bg, s.cfg.SubmitTimeout)
	defer cancel()
	if err := s.sink.Submit(submitCtx, report); err != nil {
		s.log.Warn("session: submit report", "err", err)
	}

	s.log.Info("session ended",
		"end_reason", reason,
		"duration", dur.Round(time.Second),
		"entries", len(report.Entries),
		"final_index", report.FinalIndex,
	)
	return report
}

// ── Provider events ─────────────────────────────────────────────────────────

func (s *Session) handleEvent(ev realtime.Event) {
	switch ev.Kind {
	case realtime.KindSpeechStarted:
		s.onSpeechStarted()
	case realtime.KindSpeechStopped:
		s.onSpeechStopped()
	case realtime.KindTranscript:
		if !ev.Final {
			return
		}
		s.onTranscript(ev)
	case realtime.KindResponseDone:
		s.log.Debug("session: response done", "turn_id", s.turns.TurnID())
	case realtime.KindError:
		s.log.Warn("session: provider error event", "message", ev.Text)
		s.metrics.RecordProviderError(s.ctx, "realtime", "event")
	default:
		s.log.Debug("session: unknown provider event", "type", ev.Attribution.EventType)
	}
}

func (s *Session) onSpeechStarted() {
	s.markSpoke()
	if s.ending.Load() {
		return
	}
	if !s.turns.UserSpeechStart() {
		s.log.Debug("session: speech start ignored", "state", s.turns.State())
		return
	}
	s.recon.MarkTurnStart(types.RoleUser)
	s.sil.OnUserSpeech()
}

func (s *Session) onSpeechStopped() {
	if s.ending.Load() {
		return
	}
	if !s.turns.UserSpeechEnd() {
		return
	}
	s.recon.MarkTurnStop(types.RoleUser)
	s.sil.Arm()
}

func (s *Session) onTranscript(ev realtime.Event) {
	role, rule := s.speakers.Classify(ev.Attribution)
	entry, verdict := s.recon.AppendIfNovel(role, ev.Text)
	s.metrics.RecordTranscriptAppend(s.ctx, role.String(), verdict.String())
	if verdict != transcript.Accepted {
		s.log.Debug("session: transcript dropped", "role", role, "reason", verdict, "rule", rule)
		return
	}
	s.markSpoke()

	switch role {
	case types.RoleUser:
		s.onUserText(entry)
	case types.RoleCounterpart:
		s.onCounterpartText(entry)
	}
}

func (s *Session) onUserText(entry types.TranscriptEntry) {
	s.prog.NoteUserSpoke()
	if s.ending.Load() {
		return
	}
	s.sil.OnUserSpeech()
	if s.turns.State() != turn.UserTalking {
		s.sil.Arm()
	}
	if s.prog.OfferUtterance(entry.Message) {
		s.scriptAdvanced()
	}
}

func (s *Session) onCounterpartText(entry types.TranscriptEntry) {
	if s.ending.Load() {
		s.log.Debug("session: counterpart text after ending, not voiced")
		return
	}
	ends := s.endingArmed || s.endings.IsEnding(entry.Message)

	if s.turns.State() == turn.Idle {
		s.turns.RequestResponse()
	}
	id := s.turns.TurnID()
	if !s.turns.ResponseReady(id, s.speechItem(id, entry.Message)) {
		s.log.Debug("session: response dropped", "state", s.turns.State(), "turn_id", id)
		return
	}
	if ends {
		s.log.Info("session: counterpart is ending the call", "turn_id", id)
		s.ending.Store(true)
		s.sil.Stop()
		s.term.After(s.ctx, s.turns.Wait(id))
	}
}

// ── Turns and playback ──────────────────────────────────────────────────────

// onTransition runs on whichever goroutine moved the machine.
func (s *Session) onTransition(tr turn.Transition) {
	s.metrics.RecordTurnTransition(s.ctx, tr.From.String(), tr.To.String())
	s.box.post(func() { s.handleTransition(tr) })
}

func (s *Session) handleTransition(tr turn.Transition) {
	switch tr.To {
	case turn.AIThinking:
		s.armWatchdog(tr.TurnID)
	case turn.Idle:
		stopTimer(&s.watchdog)
		if tr.From == turn.AIThinking || tr.From == turn.AISpeaking {
			s.counterpartFinished(tr)
		}
	default:
		stopTimer(&s.watchdog)
	}
	s.setView(tr.TurnID, tr.To)
}

func (s *Session) counterpartFinished(tr turn.Transition) {
	s.recon.MarkTurnStop(types.RoleCounterpart)
	if tr.Cause == turn.CausePlaybackEnd && s.prog.CounterpartTurnDone() {
		s.scriptAdvanced()
	}
	if s.ending.Load() {
		if tr.Cause == turn.CauseReset {
			// The ending turn never played; hang up regardless.
			s.term.After(s.ctx, completed())
		}
		return
	}
	s.sil.Arm()
}

func (s *Session) speechItem(id uint64, text string) playback.Item {
	voice := s.voice
	return playback.Item{
		ID: fmt.Sprintf("%s-turn-%d", s.id, id),
		Source: playback.Source{
			Fetch: func(ctx context.Context) ([]byte, error) {
				return s.synthesize(ctx, text, voice)
			},
		},
		OnStart: func() {
			s.box.post(func() { s.recon.MarkTurnStart(types.RoleCounterpart) })
		},
	}
}

func (s *Session) synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	ctx, span := observe.StartSpan(ctx, "tts.synthesize")
	defer span.End()

	start := time.Now()
	data, err := s.synth.Synthesize(ctx, text, voice)
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		s.metrics.RecordProviderError(ctx, "tts", "synthesize")
	}
	s.metrics.RecordProviderRequest(ctx, "tts", "synthesize", status)
	if err != nil {
		return nil, fmt.Errorf("session: synthesize: %w", err)
	}
	return data, nil
}

func (s *Session) armWatchdog(id uint64) {
	stopTimer(&s.watchdog)
	if s.cfg.ResponseTimeout <= 0 {
		return
	}
	s.watchdog = s.clk.AfterFunc(s.cfg.ResponseTimeout, func() {
		s.box.post(func() {
			if s.turns.State() != turn.AIThinking || s.turns.TurnID() != id {
				return
			}
			s.log.Warn("session: no counterpart response, abandoning turn", "turn_id", id)
			s.turns.Reset()
		})
	})
}

// ── Silence and greeting ────────────────────────────────────────────────────

// onSilencePrompt runs on the timer goroutine.
func (s *Session) onSilencePrompt(p silence.Prompt) {
	s.box.post(func() { s.handlePrompt(p) })
}

func (s *Session) handlePrompt(p silence.Prompt) {
	if s.ending.Load() {
		return
	}
	s.metrics.RecordSilencePrompt(s.ctx, p.Level, p.Terminal)
	if !p.Terminal && s.turns.State() != turn.Idle {
		s.log.Debug("session: silence prompt overtaken by activity", "level", p.Level)
		return
	}
	s.log.Info("session: silence escalation", "level", p.Level, "terminal", p.Terminal)
	if p.Terminal {
		s.endingArmed = true
	}
	if err := s.ch.InjectUserMessage(s.ctx, p.Instruction); err != nil {
		s.log.Warn("session: inject silence prompt", "err", err)
		s.metrics.RecordProviderError(s.ctx, "realtime", "inject")
	}
	s.requestResponse()
}

func (s *Session) armGreeting() {
	if s.cfg.GreetingDelay <= 0 {
		return
	}
	s.greeting = s.clk.AfterFunc(s.cfg.GreetingDelay, func() {
		s.box.post(s.greet)
	})
}

func (s *Session) greet() {
	s.greeting = nil
	if s.spoke || s.turns.State() != turn.Idle {
		return
	}
	s.log.Info("session: nobody spoke, asking the counterpart to open")
	s.requestResponse()
}

func (s *Session) requestResponse() {
	if !s.turns.RequestResponse() {
		s.log.Debug("session: response request while busy", "state", s.turns.State())
	}
	err := s.ch.RequestResponse(s.ctx)
	status := "ok"
	if err != nil {
		status = "error"
		s.log.Warn("session: request response", "err", err)
		s.metrics.RecordProviderError(s.ctx, "realtime", "response")
	}
	s.metrics.RecordProviderRequest(s.ctx, "realtime", "response", status)
}

// ── Helpers ─────────────────────────────────────────────────────────────────

func (s *Session) markSpoke() {
	if s.spoke {
		return
	}
	s.spoke = true
	stopTimer(&s.greeting)
}

func (s *Session) scriptAdvanced() {
	s.metrics.RecordScriptAdvance(s.ctx, string(s.prog.Mode()))
	s.log.Info("session: script advanced", "index", s.prog.Index(), "of", s.prog.Len())
}

func (s *Session) setView(turnID uint64, st turn.State) {
	s.view.Store(turnID<<8 | uint64(st))
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func completed() <-chan turn.Outcome {
	ch := make(chan turn.Outcome, 1)
	ch <- turn.OutcomeCompleted
	return ch
}
