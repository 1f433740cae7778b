package providers

import (
	"sort"
	"sync"

	"github.com/opsforge/opsplane/internal/domain"
)

// Registry maps provider ids from catalog bindings to adapters. Registration
// happens during wiring; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]domain.ProviderAdapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]domain.ProviderAdapter)}
}

// Register adds an adapter under its own name, replacing any previous one.
func (r *Registry) Register(adapter domain.ProviderAdapter) {
	r.RegisterAs(adapter.Name(), adapter)
}

// RegisterAs adds an adapter under an explicit provider id. The fake adapter
// is registered this way, once per provider id the catalog references, so a
// fake-mode process serves the same catalog a production one does.
func (r *Registry) RegisterAs(provider string, adapter domain.ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[provider] = adapter
}

// Adapter returns the adapter registered for the provider id.
func (r *Registry) Adapter(provider string) (domain.ProviderAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[provider]
	return adapter, ok
}

// Providers lists registered provider ids in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ domain.ProviderRegistry = (*Registry)(nil)
