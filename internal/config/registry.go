package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/sessionscribe/pkg/provider/diarization"
	"github.com/MrWong99/sessionscribe/pkg/provider/llm"
	"github.com/MrWong99/sessionscribe/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories holds the constructors of one provider kind.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

// create looks up the factory under mu and calls it without holding the lock.
func create[T any](mu *sync.RWMutex, f factories[T], entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := f.m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

func (f factories[T]) names() []string {
	names := make([]string, 0, len(f.m))
	for n := range f.m {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	stt         factories[stt.Provider]
	diarization factories[diarization.Provider]
	llm         factories[llm.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:         newFactories[stt.Provider]("stt"),
		diarization: newFactories[diarization.Provider]("diarization"),
		llm:         newFactories[llm.Provider]("llm"),
	}
}

// RegisterSTT registers a speech-to-text factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterDiarization registers a diarization factory under name.
func (r *Registry) RegisterDiarization(name string, factory Factory[diarization.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diarization.m[name] = factory
}

// RegisterLLM registers a language model factory under name.
func (r *Registry) RegisterLLM(name string, factory Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// CreateSTT instantiates the speech-to-text provider registered under
// entry.Name. Returns [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(&r.mu, r.stt, entry)
}

// CreateDiarization instantiates the diarization provider registered under
// entry.Name.
func (r *Registry) CreateDiarization(entry ProviderEntry) (diarization.Provider, error) {
	return create(&r.mu, r.diarization, entry)
}

// CreateLLM instantiates the language model registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(&r.mu, r.llm, entry)
}

// Names returns the sorted registered names for kind ("stt", "diarization"
// or "llm"). Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case r.stt.kind:
		return r.stt.names()
	case r.diarization.kind:
		return r.diarization.names()
	case r.llm.kind:
		return r.llm.names()
	}
	return nil
}
