package backend

import (
	"fmt"
	"sync"

	"github.com/ekisa-team/igichat/internal/plugin"
)

// Factory creates a fresh interface of a plugin.
type Factory func() (plugin.Interface, error)

// Registration binds a plugin spec to its factory.
type Registration struct {
	Spec    plugin.Spec
	Factory Factory
}

// Registry manages the backend plugins a runtime can load.
type Registry struct {
	backends map[plugin.ID]Registration
	order    []plugin.ID
	mu       sync.RWMutex
}

// NewRegistry creates a new backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[plugin.ID]Registration),
	}
}

// Register adds a plugin to the registry.
func (r *Registry) Register(spec plugin.Spec, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[spec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, spec.ID)
	}

	r.backends[spec.ID] = Registration{Spec: spec, Factory: factory}
	r.order = append(r.order, spec.ID)
	return nil
}

// Get retrieves a registration by plugin id.
func (r *Registry) Get(id plugin.ID) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.backends[id]
	return reg, ok
}

// Specs returns the registered specs in registration order.
func (r *Registry) Specs() []plugin.Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]plugin.Spec, 0, len(r.order))
	for _, id := range r.order {
		specs = append(specs, r.backends[id].Spec)
	}
	return specs
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.backends)
}
