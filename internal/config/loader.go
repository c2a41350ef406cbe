package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultSampleRate = 24000
	DefaultDevice     = DeviceMalgo
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"realtime": {"openai"},
	"tts":      {"openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields that have a process-wide default.
// Conversation tuning keeps its zero values; the engine substitutes its own
// defaults for those.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Device == "" {
		cfg.Audio.Device = DefaultDevice
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.AutoStart && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server: either auto_start or listen_addr is required, otherwise no session can ever start"))
	}

	// Providers
	if cfg.Providers.Realtime.Name == "" {
		errs = append(errs, errors.New("providers.realtime.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	validateProviderName("realtime", cfg.Providers.Realtime.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	if fb := cfg.Providers.TTSFallback; fb.Name != "" && fb.Name == cfg.Providers.TTS.Name && fb.Model == cfg.Providers.TTS.Model {
		slog.Warn("providers.tts_fallback is identical to providers.tts; failover will not help")
	}

	// Audio
	if cfg.Audio.Device != "" && !cfg.Audio.Device.IsValid() {
		errs = append(errs, fmt.Errorf("audio.device %q is invalid; valid values: malgo, null", cfg.Audio.Device))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}

	// Conversation
	conv := cfg.Conversation
	if conv.Script.Mode != "" && !conv.Script.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("conversation.script.mode %q is invalid; valid values: match, turn", conv.Script.Mode))
	}
	if t := conv.Reconciler.Threshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("conversation.reconciler.threshold %.2f is out of range [0, 1]", t))
	}
	for name, d := range map[string]int64{
		"conversation.greeting_delay":              int64(conv.GreetingDelay),
		"conversation.response_timeout":            int64(conv.ResponseTimeout),
		"conversation.reconciler.dedup_window":     int64(conv.Reconciler.DedupWindow),
		"conversation.reconciler.echo_window":      int64(conv.Reconciler.EchoWindow),
		"conversation.reconciler.user_turn_grace":  int64(conv.Reconciler.UserTurnGrace),
		"conversation.silence.first_delay":         int64(conv.Silence.FirstDelay),
		"conversation.silence.first_threshold":     int64(conv.Silence.FirstThreshold),
		"conversation.silence.repeat_delay":        int64(conv.Silence.RepeatDelay),
		"conversation.silence.repeat_threshold":    int64(conv.Silence.RepeatThreshold),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if s := conv.Silence; s.FirstThreshold > 0 && s.FirstDelay > 0 && s.FirstThreshold > s.FirstDelay {
		slog.Warn("conversation.silence.first_threshold exceeds first_delay; every first timer will re-arm once",
			"first_delay", s.FirstDelay, "first_threshold", s.FirstThreshold)
	}
	if conv.Silence.TerminalLevel < 0 {
		errs = append(errs, fmt.Errorf("conversation.silence.terminal_level %d must not be negative", conv.Silence.TerminalLevel))
	}
	if conv.Ending.TailWindow < 0 || conv.Ending.ShortLimit < 0 {
		errs = append(errs, errors.New("conversation.ending limits must not be negative"))
	}

	// Progress
	if cfg.Progress.PostgresDSN == "" {
		slog.Debug("progress.postgres_dsn is empty; reports are only logged")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
