// Package playback implements an exclusive, cancellable, strictly sequential
// player for synthesized speech.
//
// A [Queue] owns a single background dispatch goroutine. Each [Item] is
// resolved (inline bytes, buffer or fetch), decoded, handed to the [Player] and
// reported back through its OnStart/OnEnd callbacks. At most one item is
// current at any time.
//
// Failures never stall the queue: an item whose payload is empty or whose
// fetch/playback fails is logged and treated as finished, so OnEnd still fires
// and dispatch proceeds with the next item. Items cancelled through
// [Queue.Clear] or [Queue.Close] never get their callbacks invoked.
package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/dialcoach/pkg/audio"
)

// ErrEmptyAudio is reported when an item resolves to a zero-length payload.
var ErrEmptyAudio = errors.New("playback: empty audio payload")

// TransportError wraps a failure to fetch, decode or play an item's audio.
type TransportError struct {
	// ItemID identifies the failed item.
	ItemID string

	// Op is the stage that failed: "fetch", "decode" or "play".
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("playback: %s item %s: %v", e.Op, e.ItemID, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// Player renders a decoded clip on an output device.
type Player interface {
	// Play blocks until clip has been played in full or ctx is cancelled.
	// A cancelled Play returns ctx.Err().
	Play(ctx context.Context, clip audio.Clip) error
}

// Source is the audio payload of an [Item]. Exactly one field is normally
// set; when several are, Data takes priority over Buffer, which takes
// priority over Fetch.
type Source struct {
	// Data holds inline bytes.
	Data []byte

	// Buffer holds bytes accumulated by the producer.
	Buffer *bytes.Buffer

	// Fetch resolves the payload on demand. It is called from the dispatch
	// goroutine with a context that is cancelled by Clear(true) and Close.
	Fetch func(ctx context.Context) ([]byte, error)
}

// Item is one playback request. Payloads that begin with a RIFF/WAVE header
// are decoded as WAV; anything else is treated as raw PCM16LE in the queue's
// default format.
type Item struct {
	// ID is a unique token. A random UUID is assigned when empty.
	ID string

	// Source provides the audio payload.
	Source Source

	// PlaybackRate changes playback speed (0 or 1 = unchanged).
	PlaybackRate float64

	// OnStart is invoked once playback of the item begins.
	OnStart func()

	// OnEnd is invoked once playback finished naturally or failed. It is
	// never invoked for items cancelled by Clear(true) or Close.
	OnEnd func()
}

// Status is the final state of a dispatched item.
type Status int

const (
	// StatusCompleted means the item played to its natural end.
	StatusCompleted Status = iota

	// StatusFailed means resolution or playback failed.
	StatusFailed

	// StatusCancelled means the item was aborted by Clear(true) or Close.
	StatusCancelled
)

// String returns the lower-case status name, used as a metric attribute.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Option configures a [Queue] during construction.
type Option func(*Queue)

// WithFormat sets the format assumed for raw (non-WAV) PCM payloads.
// Defaults to 24 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(q *Queue) {
		if f.Valid() {
			q.format = f
		}
	}
}

// WithGap sets a silence gap inserted between consecutive items. Defaults to
// zero.
func WithGap(d time.Duration) Option {
	return func(q *Queue) {
		q.gap = d
	}
}

// WithStatusHook registers fn to be called from the dispatch goroutine after
// every dispatched item with its final status. err is nil for completed items.
// fn runs before the item's OnEnd and may call [Queue.Clear]; clearing with
// cancelCurrent set then suppresses OnEnd.
func WithStatusHook(fn func(itemID string, s Status, err error)) Option {
	return func(q *Queue) {
		q.hook = fn
	}
}

// WithLogger sets the logger used for swallowed errors. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

// entry is an item in flight through the queue together with its cancellation
// handle.
type entry struct {
	item   Item
	ctx    context.Context
	cancel context.CancelFunc
}

// Queue is a sequential playback queue. All exported methods are safe for
// concurrent use.
type Queue struct {
	player Player
	format audio.Format
	gap    time.Duration
	hook   func(string, Status, error)
	log    *slog.Logger

	mu      sync.Mutex
	pending []*entry
	current *entry // item being resolved or played, or nil
	base    context.Context
	stop    context.CancelFunc

	notify  chan struct{} // signalled when an item is enqueued
	done    chan struct{} // closed by Close to stop the dispatch goroutine
	stopped chan struct{} // closed when the dispatch goroutine has exited
	closed  bool
}

// New creates a [Queue] that plays items through player and starts its
// dispatch goroutine. Call [Queue.Close] to release it.
func New(player Player, opts ...Option) *Queue {
	base, stop := context.WithCancel(context.Background())
	q := &Queue{
		player:  player,
		format:  audio.Format{SampleRate: 24000, Channels: 1},
		log:     slog.Default(),
		base:    base,
		stop:    stop,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	go q.dispatch()
	return q
}

// Enqueue appends item to the queue and returns its ID. Items enqueued after
// Close are discarded and an empty ID is returned.
func (q *Queue) Enqueue(item Item) string {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ""
	}
	ctx, cancel := context.WithCancel(q.base)
	q.pending = append(q.pending, &entry{item: item, ctx: ctx, cancel: cancel})

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return item.ID
}

// Clear discards all pending items without invoking their callbacks. When
// cancelCurrent is true the in-flight item is aborted as well: its fetch and
// playback contexts are cancelled, its callbacks are not invoked and
// [Queue.IsPlaying] reports false immediately.
func (q *Queue) Clear(cancelCurrent bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearLocked(cancelCurrent)
}

// IsPlaying reports whether an item is currently being resolved or played.
func (q *Queue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil
}

// Len returns the number of pending items, excluding the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close aborts the current item, discards pending ones and stops the dispatch
// goroutine. It waits for the goroutine to exit. Close is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return nil
	}
	q.closed = true
	q.clearLocked(true)
	q.stop()
	q.mu.Unlock()

	close(q.done)
	<-q.stopped
	return nil
}

// clearLocked must be called with q.mu held.
func (q *Queue) clearLocked(cancelCurrent bool) {
	for _, e := range q.pending {
		e.cancel()
	}
	q.pending = nil

	if cancelCurrent && q.current != nil {
		q.current.cancel()
		q.current = nil
	}
}

// dispatch is the background goroutine that plays items one at a time until
// Close is called.
func (q *Queue) dispatch() {
	defer close(q.stopped)

	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		// The gap only separates back-to-back items; the first item after
		// the queue drained plays at once.
		played := false
		for {
			e, ok := q.dequeue()
			if !ok {
				break
			}
			if played && !q.pause(e) {
				q.finish(e)
				continue
			}
			q.run(e)
			played = true
			q.finish(e)
		}
	}
}

// dequeue pops the oldest pending item and marks it current.
func (q *Queue) dequeue() (*entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.pending) == 0 {
		return nil, false
	}
	e := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.current = e
	return e, true
}

// finish clears the current marker if e is still current and releases its
// context.
func (q *Queue) finish(e *entry) {
	q.mu.Lock()
	if q.current == e {
		q.current = nil
	}
	q.mu.Unlock()
	e.cancel()
}

// pause waits for the configured inter-item gap. It returns false when e was
// cancelled while waiting.
func (q *Queue) pause(e *entry) bool {
	if q.gap <= 0 {
		return true
	}
	t := time.NewTimer(q.gap)
	defer t.Stop()
	select {
	case <-e.ctx.Done():
		q.report(e, StatusCancelled, e.ctx.Err())
		return false
	case <-t.C:
		return true
	}
}

// run resolves and plays a single item, invoking its callbacks unless the
// item is cancelled along the way.
func (q *Queue) run(e *entry) {
	clip, err := q.resolve(e)
	if err == nil {
		if e.ctx.Err() != nil {
			q.report(e, StatusCancelled, e.ctx.Err())
			return
		}
		if e.item.OnStart != nil {
			e.item.OnStart()
		}
		if perr := q.player.Play(e.ctx, clip); perr != nil {
			err = &TransportError{ItemID: e.item.ID, Op: "play", Err: perr}
		}
	}

	if e.ctx.Err() != nil {
		q.report(e, StatusCancelled, e.ctx.Err())
		return
	}
	if err != nil {
		q.log.Warn("playback: item failed, skipping", "item_id", e.item.ID, "err", err)
		q.report(e, StatusFailed, err)
	} else {
		q.report(e, StatusCompleted, nil)
	}
	if q.settle(e) && e.item.OnEnd != nil {
		e.item.OnEnd()
	}
}

// settle retires e as the current item unless it was cancelled in the
// meantime. A Clear(true) that lands after settle no longer sees e.
func (q *Queue) settle(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.ctx.Err() != nil {
		return false
	}
	if q.current == e {
		q.current = nil
	}
	return true
}

// resolve turns the item's source into a playable clip.
func (q *Queue) resolve(e *entry) (audio.Clip, error) {
	var payload []byte
	src := e.item.Source
	switch {
	case len(src.Data) > 0:
		payload = src.Data
	case src.Buffer != nil && src.Buffer.Len() > 0:
		payload = src.Buffer.Bytes()
	case src.Fetch != nil:
		data, err := src.Fetch(e.ctx)
		if err != nil {
			return audio.Clip{}, &TransportError{ItemID: e.item.ID, Op: "fetch", Err: err}
		}
		payload = data
	}
	if len(payload) == 0 {
		return audio.Clip{}, ErrEmptyAudio
	}

	clip := audio.Clip{PCM: payload, Format: q.format}
	if audio.IsWAV(payload) {
		decoded, err := audio.DecodeWAV(payload)
		if err != nil {
			return audio.Clip{}, &TransportError{ItemID: e.item.ID, Op: "decode", Err: err}
		}
		clip = decoded
	}
	if clip.Frames() == 0 {
		return audio.Clip{}, ErrEmptyAudio
	}
	return audio.ChangeRate(clip, e.item.PlaybackRate), nil
}

func (q *Queue) report(e *entry, s Status, err error) {
	if q.hook != nil {
		q.hook(e.item.ID, s, err)
	}
}
