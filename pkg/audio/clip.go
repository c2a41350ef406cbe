// Package audio defines the in-memory audio representation used by the
// playback queue and the output devices, plus WAV and PCM helpers.
//
// All PCM handled here is signed 16-bit little-endian, interleaved when it has
// more than one channel.
package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of PCM data.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable description, e.g. "24000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Valid reports whether f can describe PCM data.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Clip is a fully decoded, ready-to-play piece of PCM16 audio.
type Clip struct {
	// PCM holds little-endian int16 samples, interleaved per frame.
	PCM []byte

	// Format of PCM.
	Format Format
}

// Frames returns the number of complete sample frames in the clip.
func (c Clip) Frames() int {
	if c.Format.Channels <= 0 {
		return 0
	}
	return len(c.PCM) / (2 * c.Format.Channels)
}

// Duration returns the playback length of the clip at its native rate.
func (c Clip) Duration() time.Duration {
	if c.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.Format.SampleRate)
}
