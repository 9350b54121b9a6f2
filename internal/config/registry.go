package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vaani-ai/voicecore/internal/offline"
	"github.com/vaani-ai/voicecore/pkg/recognizer"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions. The cloud
// recognizer and the local engine are the two pluggable seams; the registry
// lets the binary select implementations by config name. Safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	recognizers map[string]func(ProviderEntry) (recognizer.Recognizer, error)
	engines     map[string]func(ProviderEntry) (offline.LocalEngine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognizers: make(map[string]func(ProviderEntry) (recognizer.Recognizer, error)),
		engines:     make(map[string]func(ProviderEntry) (offline.LocalEngine, error)),
	}
}

// RegisterRecognizer registers a cloud recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecognizer(name string, factory func(ProviderEntry) (recognizer.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = factory
}

// RegisterEngine registers a local recognition engine factory under name.
func (r *Registry) RegisterEngine(name string, factory func(ProviderEntry) (offline.LocalEngine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = factory
}

// CreateRecognizer instantiates a recognizer using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (recognizer.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.recognizers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEngine instantiates a local engine using the factory registered under
// entry.Name.
func (r *Registry) CreateEngine(entry ProviderEntry) (offline.LocalEngine, error) {
	r.mu.RLock()
	factory, ok := r.engines[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: engine/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
