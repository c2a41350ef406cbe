package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	wav "github.com/youpy/go-wav"
)

// ErrNotWAV is returned by [DecodeWAV] when the payload has no RIFF/WAVE
// header.
var ErrNotWAV = errors.New("audio: payload is not a RIFF/WAVE file")

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV decodes a mono or stereo WAV payload into a PCM16 [Clip].
// Samples of other bit depths are rescaled to 16 bit.
func DecodeWAV(data []byte) (Clip, error) {
	if !IsWAV(data) {
		return Clip{}, ErrNotWAV
	}
	r := wav.NewReader(bytes.NewReader(data))
	format, err := r.Format()
	if err != nil {
		return Clip{}, fmt.Errorf("audio: wav format: %w", err)
	}
	channels := int(format.NumChannels)
	if channels < 1 || channels > 2 {
		return Clip{}, fmt.Errorf("audio: wav: only mono or stereo supported, got %d channels", channels)
	}

	var pcm []byte
	for {
		samples, err := r.ReadSamples()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Clip{}, fmt.Errorf("audio: reading wav samples: %w", err)
		}
		for _, s := range samples {
			for ch := range channels {
				var v int32
				if format.BitsPerSample == 16 {
					v = int32(r.IntValue(s, uint(ch)))
				} else {
					v = int32(r.FloatValue(s, uint(ch)) * 32768)
				}
				pcm = append(pcm, 0, 0)
				putSample16(pcm, len(pcm)-2, v)
			}
		}
	}
	return Clip{
		PCM:    pcm,
		Format: Format{SampleRate: int(format.SampleRate), Channels: channels},
	}, nil
}

// EncodeWAV renders clip as a 16-bit WAV payload. Only mono and stereo clips
// can be encoded.
func EncodeWAV(clip Clip) ([]byte, error) {
	channels := clip.Format.Channels
	if channels < 1 || channels > 2 || clip.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: encode wav: unsupported format %s", clip.Format)
	}
	frames := clip.Frames()
	samples := make([]wav.Sample, frames)
	for i := range frames {
		for ch := range channels {
			samples[i].Values[ch] = int(sample16(clip.PCM, (i*channels+ch)*2))
		}
	}

	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(frames), uint16(channels), uint32(clip.Format.SampleRate), 16)
	if err := w.WriteSamples(samples); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	return buf.Bytes(), nil
}
