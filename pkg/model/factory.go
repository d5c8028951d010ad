package model

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory routes model construction to the Provider named in the config.
type Factory struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewFactory constructs a factory seeded with the provided providers. Nil
// entries are skipped; later providers with the same name win.
func NewFactory(providers ...Provider) *Factory {
	f := &Factory{providers: map[string]Provider{}}
	for _, p := range providers {
		f.Register(p)
	}
	return f
}

// Register attaches or replaces a Provider implementation.
func (f *Factory) Register(p Provider) {
	if p == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[p.Name()] = p
}

// Providers lists the registered provider names in lexical order.
func (f *Factory) Providers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.providers))
	for name := range f.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewModel builds a model instance through the provider declared in cfg.
func (f *Factory) NewModel(ctx context.Context, cfg ModelConfig) (Model, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("model provider not specified")
	}

	f.mu.RLock()
	provider, ok := f.providers[cfg.Provider]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("model provider %q is not registered", cfg.Provider)
	}

	return provider.NewModel(ctx, cfg)
}
