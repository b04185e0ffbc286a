package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/christophersiem/little-moments/pkg/audio"
)

// ErrBackendNotRegistered is returned by [Registry.CreateMicrophone] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: capture backend not registered")

// MicrophoneFactory builds a microphone from its backend entry and the shared
// capture settings.
type MicrophoneFactory func(entry BackendEntry, capture CaptureConfig) (audio.Microphone, error)

// Registry maps capture backend names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	mic map[string]MicrophoneFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{mic: make(map[string]MicrophoneFactory)}
}

// RegisterMicrophone registers a backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterMicrophone(name string, factory MicrophoneFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mic[name] = factory
}

// CreateMicrophone instantiates the backend registered under entry.Name.
// Returns [ErrBackendNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateMicrophone(entry BackendEntry, capture CaptureConfig) (audio.Microphone, error) {
	r.mu.RLock()
	factory, ok := r.mic[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry, capture)
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.mic))
	for name := range r.mic {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
