// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one complete counterpart utterance into a playable
// audio payload. The payload is either a RIFF/WAV file or raw PCM16LE; the
// playback queue detects which. Synthesis runs as the fetch step of a queued
// playback item, so implementations must honour ctx cancellation promptly:
// clearing the queue aborts the request.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/dialcoach/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns the complete
	// audio payload. An empty payload with a nil error is treated by the
	// playback queue as an empty-audio failure.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)
}

// ProviderFunc adapts a plain function to the [Provider] interface.
type ProviderFunc func(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)

// Synthesize calls f.
func (f ProviderFunc) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	return f(ctx, text, voice)
}
