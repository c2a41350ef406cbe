// Command dialcoach runs the rehearsal call trainer: a voiced counterpart
// that answers through the local sound card while the trainee practises a
// scripted call.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/dialcoach/internal/app"
	"github.com/MrWong99/dialcoach/internal/config"
	"github.com/MrWong99/dialcoach/internal/health"
	"github.com/MrWong99/dialcoach/internal/observe"
	"github.com/MrWong99/dialcoach/internal/resilience"
	"github.com/MrWong99/dialcoach/pkg/audio"
	"github.com/MrWong99/dialcoach/pkg/audio/device"
	"github.com/MrWong99/dialcoach/pkg/progress"
	"github.com/MrWong99/dialcoach/pkg/progress/postgres"
	"github.com/MrWong99/dialcoach/pkg/provider/realtime"
	rtopenai "github.com/MrWong99/dialcoach/pkg/provider/realtime/openai"
	"github.com/MrWong99/dialcoach/pkg/provider/tts"
	"github.com/MrWong99/dialcoach/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/MrWong99/dialcoach/pkg/provider/tts/openai"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload log level and conversation settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dialcoach: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dialcoach: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("dialcoach starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Setup(ctx, observe.Options{Version: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	var pg *postgres.Sink
	registerBuiltinProviders(reg, &pg)

	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Audio device ──────────────────────────────────────────────────────────
	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 1}
	opts := []app.Option{
		app.WithLevel(level),
		app.WithCloser(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return telemetry.Shutdown(sctx)
		}),
	}
	if pg != nil {
		opts = append(opts,
			app.WithCheckers(health.Checker{Name: "progress", Check: pg.Ping, Optional: true}),
			app.WithCloser(func() error { pg.Close(); return nil }),
		)
	}

	switch cfg.Audio.Device {
	case config.DeviceNull:
		providers.Player = device.Null{}
	default:
		player, err := device.NewPlayer(format)
		if err != nil {
			slog.Error("failed to open playback device", "err", err)
			return 1
		}
		providers.Player = player
		opts = append(opts, app.WithCloser(player.Close))
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	var application *app.App
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, next *config.Config, d config.ConfigDiff) {
			application.ApplyConfig(old, next, d)
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		opts = append(opts, app.WithWatcher(w))
	}

	application, err = app.New(cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if cfg.Audio.Device == config.DeviceMalgo {
		mic, err := device.NewMicrophone(format, application.Sessions().Feed)
		if err != nil {
			slog.Error("failed to open capture device", "err", err)
			return 1
		}
		if err := mic.Start(); err != nil {
			slog.Error("failed to start capture", "err", err)
			_ = mic.Close()
			return 1
		}
		defer mic.Close()
	}

	printStartupSummary(cfg)
	slog.Info("ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// The postgres sink, when enabled, is also stored in *pg so that main can
// probe and close it.
func registerBuiltinProviders(reg *config.Registry, pg **postgres.Sink) {
	// ── Realtime ──────────────────────────────────────────────────────────────

	reg.RegisterRealtime("openai", func(entry config.ProviderEntry) (realtime.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("openai realtime: api_key is required")
		}
		var opts []rtopenai.Option
		if entry.Model != "" {
			opts = append(opts, rtopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, rtopenai.WithBaseURL(entry.BaseURL))
		}
		if m := optString(entry.Options, "transcription_model"); m != "" {
			opts = append(opts, rtopenai.WithTranscriptionModel(m))
		}
		return rtopenai.New(entry.APIKey, opts...), nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ttsopenai.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, ttsopenai.WithMaxRetries(n))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── Progress sinks ────────────────────────────────────────────────────────

	reg.RegisterSink("log", func(context.Context, config.ProgressConfig) (progress.Sink, error) {
		return progress.LogSink{}, nil
	})

	reg.RegisterSink("postgres", func(ctx context.Context, cfg config.ProgressConfig) (progress.Sink, error) {
		if cfg.PostgresDSN == "" {
			return nil, nil
		}
		s, err := postgres.NewSink(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		*pg = s
		return s, nil
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	rt, err := reg.CreateRealtime(cfg.Providers.Realtime)
	if err != nil {
		return nil, fmt.Errorf("create realtime provider %q: %w", cfg.Providers.Realtime.Name, err)
	}
	ps.Realtime = rt
	slog.Info("provider created", "kind", "realtime", "name", cfg.Providers.Realtime.Name)

	primary, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	chain := resilience.NewSynthChain(primary, cfg.Providers.TTS.Name, resilience.BreakerConfig{})
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	if fb := cfg.Providers.TTSFallback; fb.Name != "" {
		p, err := reg.CreateTTS(fb)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
		}
		chain.Add(fb.Name+"-fallback", p)
		slog.Info("provider created", "kind", "tts_fallback", "name", fb.Name)
	}
	ps.TTS = chain

	sinks, err := reg.CreateSinks(ctx, cfg.Progress)
	if err != nil {
		return nil, err
	}
	ps.Sink = progress.Multi(sinks...)
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("+---------------------------------------+")
	fmt.Println("|        dialcoach startup summary      |")
	fmt.Println("+---------------------------------------+")
	printProvider("Realtime", cfg.Providers.Realtime.Name, cfg.Providers.Realtime.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Fallback", cfg.Providers.TTSFallback.Name, cfg.Providers.TTSFallback.Model)
	printProvider("Audio", string(cfg.Audio.Device), fmt.Sprintf("%dHz", cfg.Audio.SampleRate))
	scenario := cfg.Conversation.Scenario
	if scenario == "" {
		scenario = "(free talk)"
	}
	printRow("Scenario", scenario)
	if cfg.Progress.PostgresDSN != "" {
		printRow("Progress", "postgres")
	} else {
		printRow("Progress", "log only")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("+---------------------------------------+")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("|  %-12s    : %-19s |\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes plain numbers as int.
func optInt(opts map[string]any, key string) (int, bool) {
	n, ok := opts[key].(int)
	return n, ok
}

// optDuration parses a duration option such as "30s". Invalid values are
// logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
