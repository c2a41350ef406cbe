// Package device connects the playback queue and the realtime channel to
// local audio hardware through miniaudio (github.com/gen2brain/malgo), and
// provides a [Null] player for headless runs.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/dialcoach/pkg/audio"
	"github.com/MrWong99/dialcoach/pkg/audio/playback"
)

// Compile-time interface assertions.
var (
	_ playback.Player = (*Player)(nil)
	_ playback.Player = (*Null)(nil)
)

// initContext creates a miniaudio context using the default backends.
func initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init context: %w", err)
	}
	return ctx, nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player plays clips on the default output device. The device runs
// continuously and outputs silence between clips; clips are converted to the
// device format before playback.
type Player struct {
	format audio.Format
	mctx   *malgo.AllocatedContext
	dev    *malgo.Device

	mu      sync.Mutex
	pending []byte
	drained chan struct{} // closed when pending has been fully consumed
}

// NewPlayer opens the default playback device in PCM16 at format and starts it.
func NewPlayer(format audio.Format) (*Player, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("device: invalid playback format %s", format)
	}
	mctx, err := initContext()
	if err != nil {
		return nil, err
	}

	p := &Player{format: format, mctx: mctx}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: p.onData})
	if err != nil {
		freeContext(mctx)
		return nil, fmt.Errorf("device: init playback: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(mctx)
		return nil, fmt.Errorf("device: start playback: %w", err)
	}
	p.dev = dev
	return p, nil
}

// Play implements [playback.Player].
func (p *Player) Play(ctx context.Context, clip audio.Clip) error {
	converted := audio.Convert(clip, p.format)
	drained := make(chan struct{})

	p.mu.Lock()
	p.pending = converted.PCM
	p.drained = drained
	p.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		if p.drained == drained {
			p.pending = nil
			p.drained = nil
		}
		p.mu.Unlock()
		return ctx.Err()
	}
}

// onData is the miniaudio output callback.
func (p *Player) onData(out, _ []byte, _ uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := copy(out, p.pending)
	clear(out[n:])
	p.pending = p.pending[n:]
	if len(p.pending) == 0 && p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
}

// Close stops the device and releases the miniaudio context.
func (p *Player) Close() error {
	err := p.dev.Stop()
	p.dev.Uninit()
	freeContext(p.mctx)
	if err != nil {
		return fmt.Errorf("device: stop playback: %w", err)
	}
	return nil
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone captures PCM16 audio from the default input device and hands
// every captured buffer to a sink callback.
type Microphone struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device
}

// NewMicrophone opens the default capture device at format. sink is called
// from the audio thread with a copy of each captured buffer and must not
// block.
func NewMicrophone(format audio.Format, sink func(pcm []byte)) (*Microphone, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("device: invalid capture format %s", format)
	}
	mctx, err := initContext()
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Alsa.NoMMap = 1

	onData := func(_, in []byte, frames uint32) {
		if frames == 0 || len(in) == 0 {
			return
		}
		buf := make([]byte, len(in))
		copy(buf, in)
		sink(buf)
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		freeContext(mctx)
		return nil, fmt.Errorf("device: init capture: %w", err)
	}
	return &Microphone{mctx: mctx, dev: dev}, nil
}

// Start begins capturing.
func (m *Microphone) Start() error {
	if err := m.dev.Start(); err != nil {
		return fmt.Errorf("device: start capture: %w", err)
	}
	return nil
}

// Close stops capturing and releases the device.
func (m *Microphone) Close() error {
	err := m.dev.Stop()
	m.dev.Uninit()
	freeContext(m.mctx)
	if err != nil {
		return fmt.Errorf("device: stop capture: %w", err)
	}
	return nil
}
