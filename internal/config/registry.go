package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered for the entry's type.
var ErrProviderNotRegistered = errors.New("config: provider type not registered")

// Factory builds a provider from a config entry.
type Factory func(ProviderEntry) (llm.Provider, error)

// Registry maps provider types to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[ProviderType]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[ProviderType]Factory)}
}

// Register registers factory under typ.
// Subsequent calls with the same type overwrite the previous registration.
func (r *Registry) Register(typ ProviderType, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = factory
}

// Create instantiates a provider using the factory registered for
// entry.Type. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) Create(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, entry.Type)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create provider %q: %w", entry.Name, err)
	}
	return p, nil
}

// CreateAll instantiates every entry in cfg.Providers, keyed by entry name.
// All failures are reported together.
func (r *Registry) CreateAll(cfg *Config) (map[string]llm.Provider, error) {
	out := make(map[string]llm.Provider, len(cfg.Providers))
	var errs []error
	for _, entry := range cfg.Providers {
		p, err := r.Create(entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[entry.Name] = p
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
