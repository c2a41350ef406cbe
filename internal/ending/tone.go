package ending

import (
	"math"
	"time"

	"github.com/MrWong99/dialcoach/pkg/audio"
)

// ToneConfig shapes the disconnect tone.
type ToneConfig struct {
	SampleRate int
	Frequency  float64
	Beep       time.Duration
	Gap        time.Duration
	Count      int
	Amplitude  float64 // 0..1
}

// DefaultTone returns three 480Hz beeps of 200ms, 150ms apart.
func DefaultTone() ToneConfig {
	return ToneConfig{
		SampleRate: 24000,
		Frequency:  480,
		Beep:       200 * time.Millisecond,
		Gap:        150 * time.Millisecond,
		Count:      3,
		Amplitude:  0.3,
	}
}

// Tone renders cfg as a mono WAV payload.
func Tone(cfg ToneConfig) ([]byte, error) {
	beep := int(cfg.Beep.Seconds() * float64(cfg.SampleRate))
	gap := int(cfg.Gap.Seconds() * float64(cfg.SampleRate))
	total := cfg.Count*beep + max(cfg.Count-1, 0)*gap

	pcm := make([]byte, 0, total*2)
	// Short linear ramps avoid clicks at beep edges.
	ramp := min(beep/10, cfg.SampleRate/200)
	for n := range cfg.Count {
		for i := range beep {
			env := 1.0
			if ramp > 0 {
				env = min(1, float64(i)/float64(ramp), float64(beep-1-i)/float64(ramp))
			}
			v := cfg.Amplitude * env * math.Sin(2*math.Pi*cfg.Frequency*float64(i)/float64(cfg.SampleRate))
			s := int16(v * math.MaxInt16)
			pcm = append(pcm, byte(s), byte(s>>8))
		}
		if n < cfg.Count-1 {
			pcm = append(pcm, make([]byte, gap*2)...)
		}
	}

	return audio.EncodeWAV(audio.Clip{PCM: pcm, Format: audio.Format{SampleRate: cfg.SampleRate, Channels: 1}})
}
