package audio_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/dialcoach/pkg/audio"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = append(out, byte(s), byte(uint16(s)>>8))
	}
	return out
}

func TestClip_Duration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		clip audio.Clip
		want time.Duration
	}{
		{"one second mono", audio.Clip{PCM: make([]byte, 16000*2), Format: audio.Format{SampleRate: 16000, Channels: 1}}, time.Second},
		{"half second stereo", audio.Clip{PCM: make([]byte, 8000*4), Format: audio.Format{SampleRate: 16000, Channels: 2}}, 500 * time.Millisecond},
		{"zero format", audio.Clip{PCM: make([]byte, 100)}, 0},
		{"partial frame ignored", audio.Clip{PCM: make([]byte, 3), Format: audio.Format{SampleRate: 1000, Channels: 1}}, time.Millisecond},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.clip.Duration(); got != tc.want {
				t.Errorf("Duration() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()

	if got := (audio.Format{SampleRate: 24000, Channels: 1}).String(); got != "24000Hz mono" {
		t.Errorf("String() = %q", got)
	}
	if got := (audio.Format{SampleRate: 48000, Channels: 2}).String(); got != "48000Hz stereo" {
		t.Errorf("String() = %q", got)
	}
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()

	got := audio.MonoToStereo(pcm16(1, -2))
	want := pcm16(1, 1, -2, -2)
	if !bytes.Equal(got, want) {
		t.Errorf("MonoToStereo = %v, want %v", got, want)
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	got := audio.StereoToMono(pcm16(100, 200, -100, -300))
	want := pcm16(150, -200)
	if !bytes.Equal(got, want) {
		t.Errorf("StereoToMono = %v, want %v", got, want)
	}
}

func TestResample16(t *testing.T) {
	t.Parallel()

	t.Run("same rate is identity", func(t *testing.T) {
		t.Parallel()
		in := pcm16(1, 2, 3)
		if got := audio.Resample16(in, 1, 8000, 8000); !bytes.Equal(got, in) {
			t.Errorf("got %v, want %v", got, in)
		}
	})

	t.Run("upsample doubles frames", func(t *testing.T) {
		t.Parallel()
		got := audio.Resample16(pcm16(0, 100), 1, 8000, 16000)
		want := pcm16(0, 50, 100, 100)
		if !bytes.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("downsample stereo keeps channels apart", func(t *testing.T) {
		t.Parallel()
		got := audio.Resample16(pcm16(10, -10, 20, -20, 30, -30, 40, -40), 2, 16000, 8000)
		want := pcm16(10, -10, 30, -30)
		if !bytes.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})
}

func TestConvert(t *testing.T) {
	t.Parallel()

	clip := audio.Clip{PCM: pcm16(0, 100), Format: audio.Format{SampleRate: 8000, Channels: 1}}
	got := audio.Convert(clip, audio.Format{SampleRate: 16000, Channels: 2})

	if got.Format != (audio.Format{SampleRate: 16000, Channels: 2}) {
		t.Fatalf("Format = %v", got.Format)
	}
	want := pcm16(0, 0, 50, 50, 100, 100, 100, 100)
	if !bytes.Equal(got.PCM, want) {
		t.Errorf("PCM = %v, want %v", got.PCM, want)
	}

	same := audio.Convert(clip, clip.Format)
	if !bytes.Equal(same.PCM, clip.PCM) {
		t.Error("converting to the same format must not alter the clip")
	}
}

func TestChangeRate(t *testing.T) {
	t.Parallel()

	clip := audio.Clip{PCM: make([]byte, 1000*2), Format: audio.Format{SampleRate: 1000, Channels: 1}}

	fast := audio.ChangeRate(clip, 2)
	if fast.Format != clip.Format {
		t.Errorf("Format changed to %v", fast.Format)
	}
	if got := fast.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration at 2x = %v, want 500ms", got)
	}
	if got := audio.ChangeRate(clip, 0).Duration(); got != time.Second {
		t.Errorf("Duration at rate 0 = %v, want 1s", got)
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		clip audio.Clip
	}{
		{"mono", audio.Clip{PCM: pcm16(0, 1000, -1000, 32767, -32768), Format: audio.Format{SampleRate: 16000, Channels: 1}}},
		{"stereo", audio.Clip{PCM: pcm16(1, -1, 500, -500), Format: audio.Format{SampleRate: 44100, Channels: 2}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			data, err := audio.EncodeWAV(tc.clip)
			if err != nil {
				t.Fatalf("EncodeWAV: %v", err)
			}
			if !audio.IsWAV(data) {
				t.Fatal("encoded payload lacks a RIFF/WAVE header")
			}
			got, err := audio.DecodeWAV(data)
			if err != nil {
				t.Fatalf("DecodeWAV: %v", err)
			}
			if got.Format != tc.clip.Format {
				t.Errorf("Format = %v, want %v", got.Format, tc.clip.Format)
			}
			if !bytes.Equal(got.PCM, tc.clip.PCM) {
				t.Errorf("PCM = %v, want %v", got.PCM, tc.clip.PCM)
			}
		})
	}
}

func TestDecodeWAV_NotWAV(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodeWAV(pcm16(1, 2, 3, 4, 5, 6, 7))
	if !errors.Is(err, audio.ErrNotWAV) {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}

func TestEncodeWAV_RejectsMultichannel(t *testing.T) {
	t.Parallel()

	_, err := audio.EncodeWAV(audio.Clip{PCM: make([]byte, 12), Format: audio.Format{SampleRate: 8000, Channels: 3}})
	if err == nil {
		t.Error("expected error for 3-channel clip")
	}
}
