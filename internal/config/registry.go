package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/dialcoach/pkg/progress"
	"github.com/MrWong99/dialcoach/pkg/provider/realtime"
	"github.com/MrWong99/dialcoach/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// SinkFactory builds a progress sink from the progress section. It returns
// a nil sink when the section does not enable it.
type SinkFactory func(ctx context.Context, cfg ProgressConfig) (progress.Sink, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	realtime map[string]func(ProviderEntry) (realtime.Provider, error)
	tts      map[string]func(ProviderEntry) (tts.Provider, error)
	sinks    map[string]SinkFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		realtime: make(map[string]func(ProviderEntry) (realtime.Provider, error)),
		tts:      make(map[string]func(ProviderEntry) (tts.Provider, error)),
		sinks:    make(map[string]SinkFactory),
	}
}

// RegisterRealtime registers a realtime provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRealtime(name string, factory func(ProviderEntry) (realtime.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realtime[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterSink registers a progress sink factory under name.
func (r *Registry) RegisterSink(name string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = factory
}

// CreateRealtime instantiates a realtime provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateRealtime(entry ProviderEntry) (realtime.Provider, error) {
	r.mu.RLock()
	factory, ok := r.realtime[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: realtime/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSinks runs every registered sink factory in name order and returns
// the sinks they enabled. A failing factory aborts with its error.
func (r *Registry) CreateSinks(ctx context.Context, cfg ProgressConfig) ([]progress.Sink, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	factories := make(map[string]SinkFactory, len(r.sinks))
	for name, f := range r.sinks {
		factories[name] = f
	}
	r.mu.RUnlock()
	slices.Sort(names)

	var sinks []progress.Sink
	for _, name := range names {
		s, err := factories[name](ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: create sink %q: %w", name, err)
		}
		if s != nil {
			sinks = append(sinks, s)
		}
	}
	return sinks, nil
}
