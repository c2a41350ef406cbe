package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/dialcoach/internal/app"
	"github.com/MrWong99/dialcoach/internal/config"
	"github.com/MrWong99/dialcoach/internal/health"
	"github.com/MrWong99/dialcoach/internal/session"
	"github.com/MrWong99/dialcoach/pkg/clock/fake"
)

// testConfig returns a minimal config for tests.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Providers: config.ProvidersConfig{
			Realtime: config.ProviderEntry{Name: "openai"},
			TTS:      config.ProviderEntry{Name: "openai"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, f *fixture, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithClock(fake.New(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))),
		app.WithDialConfig(session.DialConfig{MaxRetries: -1}),
	}, opts...)
	a, err := app.New(cfg, f.ps, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture()
	tests := []struct {
		name string
		cfg  *config.Config
		ps   *app.Providers
	}{
		{name: "nil config", cfg: nil, ps: f.ps},
		{name: "nil providers", cfg: testConfig(), ps: nil},
		{name: "missing realtime", cfg: testConfig(), ps: &app.Providers{TTS: f.ps.TTS, Player: f.ps.Player}},
		{name: "missing tts", cfg: testConfig(), ps: &app.Providers{Realtime: f.rt, Player: f.ps.Player}},
		{name: "missing player", cfg: testConfig(), ps: &app.Providers{Realtime: f.rt, TTS: f.ps.TTS}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.New(tt.cfg, tt.ps); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHandler_SessionLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := newTestApp(t, testConfig(), f)
	h := a.Handler()

	rec := do(t, h, http.MethodGet, "/session")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /session = %d", rec.Code)
	}
	var st app.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Active {
		t.Error("session active before POST")
	}

	rec = do(t, h, http.MethodPost, "/session")
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /session = %d, body %s", rec.Code, rec.Body)
	}
	var info app.SessionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.SessionID == "" {
		t.Error("POST /session returned no session id")
	}

	if rec := do(t, h, http.MethodPost, "/session"); rec.Code != http.StatusConflict {
		t.Errorf("second POST /session = %d, want %d", rec.Code, http.StatusConflict)
	}

	rec = do(t, h, http.MethodGet, "/session")
	st = app.Status{}
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Active || st.Live == nil || st.Live.State != "IDLE" {
		t.Errorf("GET /session = %+v, want active IDLE snapshot", st)
	}

	if rec := do(t, h, http.MethodDelete, "/session"); rec.Code != http.StatusOK {
		t.Errorf("DELETE /session = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/session"); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE /session = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandler_StartFailureIsBadGateway(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.rt.ConnectErr = errors.New("handshake refused")
	a := newTestApp(t, testConfig(), f)
	h := a.Handler()

	if rec := do(t, h, http.MethodPost, "/session"); rec.Code != http.StatusBadGateway {
		t.Errorf("POST /session = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if rec := do(t, h, http.MethodGet, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz = %d, want %d after failed start", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandler_ProbesAndMetrics(t *testing.T) {
	t.Parallel()

	f := newFixture()
	degraded := health.Checker{
		Name:     "progress",
		Check:    func(context.Context) error { return errors.New("connection refused") },
		Optional: true,
	}
	a := newTestApp(t, testConfig(), f, app.WithCheckers(degraded))
	h := a.Handler()

	tests := []struct {
		path string
		want int
	}{
		{path: "/healthz", want: http.StatusOK},
		{path: "/readyz", want: http.StatusOK},
		{path: "/metrics", want: http.StatusOK},
	}
	for _, tt := range tests {
		if rec := do(t, h, http.MethodGet, tt.path); rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}

	rec := do(t, h, http.MethodGet, "/readyz")
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["realtime"] != "ok" {
		t.Errorf("realtime check = %q, want ok", body.Checks["realtime"])
	}
	if body.Checks["progress"] == "ok" {
		t.Error("optional progress check reported ok despite failing")
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	f := newFixture()
	var level slog.LevelVar
	cfg := testConfig()
	a := newTestApp(t, cfg, f, app.WithLevel(&level))

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Conversation.Instructions = "You are curt and busy."
	a.ApplyConfig(cfg, &next, config.Diff(cfg, &next))

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}

	ctx := context.Background()
	if _, err := a.Sessions().Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if got := f.rt.ConnectCalls[0].Instructions; got != "You are curt and busy." {
		t.Errorf("Instructions = %q, want reloaded value", got)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.SlogLevel(tt.in); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRun_HeadlessAutoStartEndsWithSession(t *testing.T) {
	t.Parallel()

	f := newFixture()
	cfg := testConfig()
	cfg.Server.ListenAddr = ""
	cfg.Server.AutoStart = true
	a := newTestApp(t, cfg, f)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	deadline := time.Now().Add(waitFor)
	for !a.Sessions().IsActive() {
		if time.Now().After(deadline) {
			t.Fatal("auto-start session never became active")
		}
		time.Sleep(time.Millisecond)
	}
	f.ch.Fail(errors.New("socket reset"))

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(waitFor):
		t.Fatal("Run did not return after the session ended")
	}
	if got := len(f.sink.Reports()); got != 1 {
		t.Errorf("reports = %d, want 1", got)
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := newTestApp(t, testConfig(), f)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(waitFor)
	for a.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never bound")
		}
		time.Sleep(time.Millisecond)
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_StopsSessionAndRunsClosers(t *testing.T) {
	t.Parallel()

	f := newFixture()
	closed := 0
	a := newTestApp(t, testConfig(), f, app.WithCloser(func() error { closed++; return nil }))

	ctx := context.Background()
	if _, err := a.Sessions().Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if a.Sessions().IsActive() {
		t.Error("session still active after Shutdown")
	}
	if closed != 1 {
		t.Errorf("closers run = %d, want 1", closed)
	}
	if got := len(f.sink.Reports()); got != 1 {
		t.Errorf("reports = %d, want 1", got)
	}

	// Idempotent.
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}
	if closed != 1 {
		t.Errorf("closers run = %d after second Shutdown, want 1", closed)
	}
}
