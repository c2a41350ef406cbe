// Package types defines the shared types used across all dialcoach packages.
//
// These types form the lingua franca between providers, the conversation
// engine, and the progress sinks. They are intentionally minimal: each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

// Role identifies which party of a rehearsal conversation produced an
// utterance.
type Role int

const (
	// RoleUser is the trainee practising the conversation.
	RoleUser Role = iota

	// RoleCounterpart is the simulated party driven by the remote speech
	// service.
	RoleCounterpart
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleCounterpart:
		return "counterpart"
	default:
		return "unknown"
	}
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleUser {
		return RoleCounterpart
	}
	return RoleUser
}

// MarshalText implements [encoding.TextMarshaler] so that roles serialise as
// "user" / "counterpart" in JSON and YAML.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler]. Unknown names decode
// as [RoleUser].
func (r *Role) UnmarshalText(text []byte) error {
	*r = ParseRole(string(text))
	return nil
}

// ParseRole returns the role named s. Anything other than "counterpart"
// yields [RoleUser].
func ParseRole(s string) Role {
	if s == RoleCounterpart.String() {
		return RoleCounterpart
	}
	return RoleUser
}

// TranscriptEntry is one accepted utterance of the conversation transcript.
// Entries are never mutated after they have been appended.
type TranscriptEntry struct {
	// Speaker is the party that produced the utterance.
	Speaker Role `json:"speaker"`

	// Message is the utterance text as received (not normalised).
	Message string `json:"message"`

	// TimestampSeconds is the whole number of seconds elapsed since the
	// session started when the entry was appended.
	TimestampSeconds int `json:"timestamp_seconds"`
}

// VoiceProfile describes the synthesized voice of the counterpart.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string `yaml:"id"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `yaml:"provider"`

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default, 0 = unset).
	SpeedFactor float64 `yaml:"speed_factor"`
}
