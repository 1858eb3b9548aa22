package layer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownLayerType is returned by Registry.New for unregistered types.
var ErrUnknownLayerType = errors.New("unknown layer type")

// HeightDiffLayerType is the type name of HeightDiffLayer.
const HeightDiffLayerType = "mesh_layers/HeightDiffLayer"

// Factory creates an uninitialised layer.
type Factory func() Layer

// Registry maps layer type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under typeName.
// If a factory with the same name already exists, it is replaced.
func (r *Registry) Register(typeName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = f
}

// New creates a layer of the given type.
func (r *Registry) New(typeName string) (Layer, error) {
	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayerType, typeName)
	}
	return f(), nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DefaultRegistry returns a registry pre-loaded with the built-in layers.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(HeightDiffLayerType, func() Layer { return NewHeightDiffLayer() })
	return reg
}
