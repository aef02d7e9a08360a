package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps model identifiers to adapter instances. It is constructed
// explicitly and injected into whatever needs lookups; there is no package
// global. Production wiring registers the built-in adapters once at startup;
// Register/Unregister/Reset exist for that wiring and for test isolation and
// must not race request handling.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register binds a model identifier to an adapter, replacing any previous
// binding for that identifier.
func (r *Registry) Register(modelID string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[modelID] = adapter
}

// Get returns the adapter bound to the model identifier.
// Returns an error wrapping ErrAdapterNotFound when no binding exists; model
// identifiers are validated at submission, so a miss here is fatal for the
// calling job.
func (r *Registry) Get(modelID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAdapterNotFound, modelID)
	}
	return adapter, nil
}

// Has reports whether a model identifier is registered.
func (r *Registry) Has(modelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[modelID]
	return ok
}

// Unregister removes the binding for a model identifier, if present.
func (r *Registry) Unregister(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, modelID)
}

// Reset removes every binding. Test isolation only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = make(map[string]Adapter)
}

// ModelIDs returns the registered model identifiers in sorted order.
func (r *Registry) ModelIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
