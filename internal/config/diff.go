package config

import "reflect"

// ConfigDiff describes what changed between two configs, grouped by how the
// change can be applied.
type ConfigDiff struct {
	// LogLevelChanged is applied immediately.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ConversationChanged is applied to the next session; a running session
	// keeps the tuning it started with.
	ConversationChanged bool

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// IsEmpty reports whether nothing changed.
func (d ConfigDiff) IsEmpty() bool {
	return !d.LogLevelChanged && !d.ConversationChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.ConversationChanged = !reflect.DeepEqual(old.Conversation, new.Conversation)

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.AutoStart != new.Server.AutoStart {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Progress != new.Progress {
		d.RestartRequired = append(d.RestartRequired, "progress")
	}
	return d
}
