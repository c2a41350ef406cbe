package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/dialcoach/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		mutate       func(*config.Config)
		wantLevel    bool
		wantConv     bool
		wantSections []string
	}{
		{name: "no changes", mutate: func(*config.Config) {}},
		{
			name:      "log level",
			mutate:    func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLevel: true,
		},
		{
			name:     "silence tuning",
			mutate:   func(c *config.Config) { c.Conversation.Silence.FirstDelay = 7 * time.Second },
			wantConv: true,
		},
		{
			name:     "scenario path",
			mutate:   func(c *config.Config) { c.Conversation.Scenario = "other.yaml" },
			wantConv: true,
		},
		{
			name:         "provider swap",
			mutate:       func(c *config.Config) { c.Providers.TTS.Name = "elevenlabs" },
			wantSections: []string{"providers"},
		},
		{
			name: "provider option",
			mutate: func(c *config.Config) {
				c.Providers.Realtime.Options = map[string]any{"transcription_model": "whisper-1"}
			},
			wantSections: []string{"providers"},
		},
		{
			name: "restart sections",
			mutate: func(c *config.Config) {
				c.Server.ListenAddr = ":9090"
				c.Audio.Device = config.DeviceNull
				c.Progress.PostgresDSN = "postgres://localhost/dialcoach"
			},
			wantSections: []string{"server", "audio", "progress"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, cur := validConfig(), validConfig()
			tt.mutate(cur)
			d := config.Diff(old, cur)

			if d.LogLevelChanged != tt.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tt.wantLevel)
			}
			if tt.wantLevel && d.NewLogLevel != cur.Server.LogLevel {
				t.Errorf("NewLogLevel = %q", d.NewLogLevel)
			}
			if d.ConversationChanged != tt.wantConv {
				t.Errorf("ConversationChanged = %v, want %v", d.ConversationChanged, tt.wantConv)
			}
			if !slices.Equal(d.RestartRequired, tt.wantSections) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantSections)
			}
			empty := !tt.wantLevel && !tt.wantConv && len(tt.wantSections) == 0
			if d.IsEmpty() != empty {
				t.Errorf("IsEmpty() = %v, want %v", d.IsEmpty(), empty)
			}
		})
	}
}
