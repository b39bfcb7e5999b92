package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotRegistered is returned by Resolve for an engine type without backend.
var ErrNotRegistered = errors.New("backend not registered")

// Info pairs an engine type with the capabilities of its backend.
type Info struct {
	EngineType   string       `json:"engine_type"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry maps engine types to the backends serving them.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend for the given engine type, replacing any previous one.
func (r *Registry) Register(engineType string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[engineType] = b
}

// Resolve returns the backend serving engineType.
func (r *Registry) Resolve(engineType string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[engineType]
	if !ok {
		return nil, fmt.Errorf("engine type %q: %w", engineType, ErrNotRegistered)
	}
	return b, nil
}

// Has reports whether a backend is registered for engineType.
func (r *Registry) Has(engineType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[engineType]
	return ok
}

// List returns all registered backends sorted by engine type for a stable
// API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.backends))
	for typ, b := range r.backends {
		infos = append(infos, Info{
			EngineType:   typ,
			Capabilities: b.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].EngineType < infos[j].EngineType
	})
	return infos
}
