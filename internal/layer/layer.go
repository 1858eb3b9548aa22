// Package layer defines the cost layer capability loaded by the mesh map and
// the built-in layer implementations.
//
// A layer contributes one dense per-vertex cost map to the combined
// traversability cost of a mesh, plus a set of lethal vertices that must not
// be traversed at all. Layers are created by type name through a Registry and
// initialised with borrowed dependencies supplied by the host.
package layer

import (
	"context"
	"sync"

	"github.com/banshee-data/meshlayers/internal/config"
	"github.com/banshee-data/meshlayers/internal/mesh"
	"github.com/banshee-data/meshlayers/internal/reconfig"
)

// AttributeStore persists named dense per-vertex maps.
type AttributeStore interface {
	// GetDenseAttributeMap returns the map stored under name, or (nil, nil)
	// if none is stored.
	GetDenseAttributeMap(name string) (*mesh.DenseVertexMap[float32], error)
	AddDenseAttributeMap(m *mesh.DenseVertexMap[float32], name string) error
}

// Deps are the host-owned collaborators handed to a layer on Initialize.
// The layer borrows them and must not close them.
type Deps struct {
	Mesh  *mesh.Mesh
	Store AttributeStore

	// Params, when non-nil, receives the layer's reconfigure endpoint under
	// the layer name.
	Params reconfig.Registrar

	// Notify is called with the layer name whenever the lethal set changes
	// in response to a parameter update. The host lock is held.
	Notify func(name string)

	Settings config.LayerSettings

	// Locker is the host lock held around asynchronous parameter updates.
	Locker sync.Locker

	// Context bounds layer computations. Defaults to context.Background.
	Context context.Context

	// Workers limits parallelism of layer computations; <= 0 uses GOMAXPROCS.
	Workers int
}

// Layer is a named per-vertex cost contribution.
//
// Read, write and compute report success as a bool; the cause of a failure
// is logged by the layer. None of the methods are safe for concurrent use;
// the host serialises calls.
type Layer interface {
	Initialize(name string, deps Deps) error

	// ReadLayer loads the layer's values from the attribute store.
	// It returns false, leaving the layer unchanged, if nothing is stored.
	ReadLayer() bool
	// WriteLayer saves the layer's values to the attribute store.
	WriteLayer() bool
	// ComputeLayer recomputes the layer's values from the mesh.
	ComputeLayer() bool

	// Costs returns the layer's per-vertex values. The map is shared with
	// the layer and replaced wholesale by ReadLayer and ComputeLayer.
	Costs() *mesh.DenseVertexMap[float32]
	// Lethals returns the set of untraversable vertices. The set is shared
	// with the layer.
	Lethals() map[mesh.VertexHandle]struct{}
	Threshold() float64
	// DefaultValue is the cost assumed for vertices the layer knows nothing
	// about.
	DefaultValue() float32
	Name() string

	// Close releases host registrations made by Initialize.
	Close()
}
