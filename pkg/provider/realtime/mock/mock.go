// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to verify Connect calls and hand out a controlled Channel.
// Use Channel to push inbound events and inspect which outbound methods the
// engine invoked.
//
// Example:
//
//	ch := mock.NewChannel()
//	p := &mock.Provider{Channel: ch}
//	ch.Emit(realtime.Event{Kind: realtime.KindSpeechStarted})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dialcoach/pkg/provider/realtime"
)

// Compile-time assertions.
var (
	_ realtime.Provider = (*Provider)(nil)
	_ realtime.Channel  = (*Channel)(nil)
)

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Channel is returned by Connect. If nil, Connect returns a new Channel.
	Channel *Channel

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records the SessionConfig of every Connect call in order.
	ConnectCalls []realtime.SessionConfig
}

// Connect records the call and returns Channel, ConnectErr.
func (p *Provider) Connect(_ context.Context, cfg realtime.SessionConfig) (realtime.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, cfg)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Channel == nil {
		p.Channel = NewChannel()
	}
	return p.Channel, nil
}

// Channel is a mock implementation of realtime.Channel. All methods are safe
// for concurrent use.
type Channel struct {
	mu       sync.Mutex
	events   chan realtime.Event
	closed   bool
	err      error
	audio    [][]byte
	injected []string
	requests int
	calls    chan string

	// SendErr, if non-nil, is returned by every outbound method.
	SendErr error
}

// NewChannel returns a Channel with a buffered event stream.
func NewChannel() *Channel {
	return &Channel{
		events: make(chan realtime.Event, 64),
		calls:  make(chan string, 64),
	}
}

// Emit pushes ev onto the event stream. It is a no-op after Close.
func (c *Channel) Emit(ev realtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// Fail closes the event stream with err, simulating a dropped connection.
func (c *Channel) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.err = err
	c.closed = true
	close(c.events)
}

// Calls returns a channel that receives the name of every outbound method
// call ("SendAudio", "InjectUserMessage", "RequestResponse", "Close").
// Names are dropped when the buffer is full.
func (c *Channel) Calls() <-chan string { return c.calls }

func (c *Channel) record(name string) {
	select {
	case c.calls <- name:
	default:
	}
}

// Events implements realtime.Channel.
func (c *Channel) Events() <-chan realtime.Event { return c.events }

// Err implements realtime.Channel.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SendAudio records the chunk.
func (c *Channel) SendAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SendAudio")
	if c.SendErr != nil {
		return c.SendErr
	}
	c.audio = append(c.audio, append([]byte(nil), chunk...))
	return nil
}

// InjectUserMessage records text.
func (c *Channel) InjectUserMessage(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("InjectUserMessage")
	if c.SendErr != nil {
		return c.SendErr
	}
	c.injected = append(c.injected, text)
	return nil
}

// RequestResponse counts the call.
func (c *Channel) RequestResponse(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("RequestResponse")
	if c.SendErr != nil {
		return c.SendErr
	}
	c.requests++
	return nil
}

// Close closes the event stream. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.record("Close")
	c.closed = true
	close(c.events)
	return nil
}

// Injected returns a copy of all injected user messages.
func (c *Channel) Injected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.injected...)
}

// Requests returns the number of RequestResponse calls.
func (c *Channel) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

// AudioChunks returns a copy of all chunks passed to SendAudio.
func (c *Channel) AudioChunks() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.audio...)
}

// Closed reports whether Close or Fail has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
