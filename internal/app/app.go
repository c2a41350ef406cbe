// Package app wires the dialcoach subsystems into a running application.
//
// The App owns the process lifecycle: New assembles the session manager and
// the HTTP surface, Run serves status, health and metrics endpoints next to
// the rehearsal sessions, and Shutdown stops whatever is still running.
//
// For testing, inject mock providers through [Providers] and test doubles via
// functional options ([WithClock], [WithMetrics], etc.).
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dialcoach/internal/config"
	"github.com/MrWong99/dialcoach/internal/health"
	"github.com/MrWong99/dialcoach/internal/observe"
	"github.com/MrWong99/dialcoach/internal/session"
	"github.com/MrWong99/dialcoach/pkg/audio"
	"github.com/MrWong99/dialcoach/pkg/audio/playback"
	"github.com/MrWong99/dialcoach/pkg/clock"
	"github.com/MrWong99/dialcoach/pkg/progress"
	"github.com/MrWong99/dialcoach/pkg/provider/realtime"
	"github.com/MrWong99/dialcoach/pkg/provider/tts"
)

// shutdownTimeout bounds the HTTP server drain during Run's exit.
const shutdownTimeout = 10 * time.Second

// Providers holds one interface value per external collaborator. Populated by
// main.go via the config registry.
type Providers struct {
	Realtime realtime.Provider
	TTS      tts.Provider

	// Sink receives finished session reports. Nil logs them.
	Sink progress.Sink

	// Player renders counterpart audio.
	Player playback.Player
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	sessions  *SessionManager
	health    *health.Handler
	metrics   *observe.Metrics
	watcher   *config.Watcher
	level     *slog.LevelVar
	clk       clock.Clock
	dial      session.DialConfig
	checkers  []health.Checker

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once

	// addr is the bound listen address once Run is serving.
	addrMu sync.Mutex
	addr   net.Addr
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithClock sets the clock that drives session timers.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clk = c }
}

// WithMetrics sets the metrics instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithWatcher makes Run poll w and apply configuration changes live.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithLevel hands the App the logger's level so that log_level changes take
// effect without a restart.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithDialConfig sets the realtime connect retry policy.
func WithDialConfig(dc session.DialConfig) Option {
	return func(a *App) { a.dial = dc }
}

// WithCheckers registers additional readiness checks.
func WithCheckers(cs ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, cs...) }
}

// WithCloser registers fn to run during Shutdown, after sessions stopped.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and providers. The realtime provider, the TTS
// provider and the player are required.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.Realtime == nil || providers.TTS == nil || providers.Player == nil {
		return nil, errors.New("app: realtime, tts and player providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.clk == nil {
		a.clk = clock.Real{}
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		Providers:    providers,
		Conversation: cfg.Conversation,
		Format:       audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 1},
		Clock:        a.clk,
		Metrics:      a.metrics,
		Dial:         a.dial,
	})

	a.health = health.New(health.Checker{Name: "realtime", Check: a.sessions.Healthy})
	a.health.Add(a.checkers...)
	return a, nil
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Addr returns the address the HTTP server is bound to, or nil when it is
// not serving.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the HTTP surface: session control, health probes and
// Prometheus metrics, wrapped in the tracing middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /session", a.getSession)
	mux.HandleFunc("POST /session", a.postSession)
	mux.HandleFunc("DELETE /session", a.deleteSession)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) getSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Status())
}

func (a *App) postSession(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.Start(r.Context())
	switch {
	case errors.Is(err, ErrSessionActive):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		observe.Logger(r.Context()).Warn("start session", "err", err)
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusCreated, info)
	}
}

func (a *App) deleteSession(w http.ResponseWriter, r *http.Request) {
	err := a.sessions.Stop(r.Context())
	switch {
	case errors.Is(err, ErrNoSession):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeJSON(w, http.StatusOK, a.sessions.Status())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("app: encode response", "err", err)
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the live-reloadable part of a configuration change.
// It is the callback handed to [config.NewWatcher].
func (a *App) ApplyConfig(_, next *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ConversationChanged {
		a.sessions.SetConversation(next.Conversation)
		slog.Info("conversation settings updated; applies to the next session")
	}
}

// SlogLevel maps a configured log level onto a [slog.Level].
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP surface when a listen address is configured, polls the
// config watcher when one is set and starts a session right away when
// auto_start is on. Without a listen address Run returns once the auto-started
// session ends; otherwise it runs until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", addr, err)
		}
		a.addrMu.Lock()
		a.addr = ln.Addr()
		a.addrMu.Unlock()

		srv := &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if a.watcher != nil {
		g.Go(func() error {
			err := a.watcher.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if a.cfg.Server.AutoStart {
		g.Go(func() error {
			if _, err := a.sessions.Start(ctx); err != nil {
				return err
			}
			if err := a.sessions.Wait(ctx); err != nil {
				return nil
			}
			if a.cfg.Server.ListenAddr == "" {
				return errAutoSessionDone
			}
			return nil
		})
	}

	slog.Info("app running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"auto_start", a.cfg.Server.AutoStart,
	)
	err := g.Wait()
	if errors.Is(err, errAutoSessionDone) {
		return nil
	}
	return err
}

// errAutoSessionDone unwinds the run group once a headless session ended.
var errAutoSessionDone = errors.New("app: auto-started session finished")

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active session, waiting for its report, then runs the
// registered closers. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.sessions.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("stop session", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
