package resilience

import (
	"context"

	"github.com/MrWong99/dialcoach/pkg/provider/tts"
	"github.com/MrWong99/dialcoach/pkg/types"
)

// SynthChain is a [tts.Provider] that fails over across speech backends.
type SynthChain struct {
	chain *Chain[tts.Provider]
}

var _ tts.Provider = (*SynthChain)(nil)

// NewSynthChain returns a SynthChain that prefers primary.
func NewSynthChain(primary tts.Provider, name string, cfg BreakerConfig) *SynthChain {
	return &SynthChain{chain: NewChain(primary, name, cfg)}
}

// Add registers a fallback backend.
func (s *SynthChain) Add(name string, p tts.Provider) { s.chain.Add(name, p) }

// Backends lists the backend names in call order.
func (s *SynthChain) Backends() []string { return s.chain.Names() }

// Synthesize renders text with the first backend that succeeds. Empty audio
// without an error counts as success; the playback queue skips it.
func (s *SynthChain) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	return Call(s.chain, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}
