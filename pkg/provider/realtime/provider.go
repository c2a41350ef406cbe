// Package realtime defines the Provider interface for realtime speech/turn
// backends that drive the simulated counterpart.
//
// A realtime provider accepts the trainee's microphone audio, detects speech
// boundaries, transcribes both parties and generates the counterpart's reply
// text. Its inbound traffic is surfaced as a stream of [Event] values that the
// boundary decoder ([Decode]) has already reduced to a closed set of kinds;
// the raw payload shape never leaks past this package.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"

	"github.com/MrWong99/dialcoach/pkg/types"
)

// SessionConfig is the initial configuration for a realtime session.
type SessionConfig struct {
	// Instructions is the system-level prompt that defines the counterpart's
	// persona and the rehearsal scenario.
	Instructions string

	// Voice is forwarded to providers that synthesize speech themselves. The
	// text-output adapters ignore it.
	Voice types.VoiceProfile

	// SampleRate of the PCM16 mono audio passed to [Channel.SendAudio].
	// Zero selects the provider's default.
	SampleRate int
}

// Channel is an open realtime session. Callers must call Close when done.
type Channel interface {
	// Events returns the stream of decoded inbound events. The channel is
	// closed when the session ends; call Err afterwards to learn why.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil after a clean
	// Close.
	Err() error

	// SendAudio delivers a PCM16 mono chunk of the trainee's microphone audio.
	SendAudio(chunk []byte) error

	// InjectUserMessage inserts a synthetic user-role text message into the
	// conversation without triggering a response.
	InjectUserMessage(ctx context.Context, text string) error

	// RequestResponse asks the provider to generate the next counterpart turn.
	RequestResponse(ctx context.Context) error

	// Close terminates the session and closes the Events channel. Idempotent.
	Close() error
}

// Provider is the abstraction over any realtime backend.
type Provider interface {
	// Connect opens a new session. The returned Channel is ready for audio
	// immediately.
	Connect(ctx context.Context, cfg SessionConfig) (Channel, error)
}
