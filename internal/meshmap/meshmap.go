// Package meshmap hosts the cost layers of a mesh.
//
// A MeshMap loads the layers named in the configuration, reads each layer
// from the map file or computes and stores it, and combines the layer costs
// into a single per-vertex traversability cost. Parameter updates arriving
// through the reconfigure mux are applied under the MeshMap lock, and every
// change is fanned out to event subscribers.
package meshmap

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/meshlayers/internal/config"
	"github.com/banshee-data/meshlayers/internal/layer"
	"github.com/banshee-data/meshlayers/internal/mesh"
	"github.com/banshee-data/meshlayers/internal/monitoring"
	"github.com/banshee-data/meshlayers/internal/reconfig"
	"github.com/banshee-data/meshlayers/internal/timeutil"
)

var logf = monitoring.Component("MeshMap")

// Options configure a MeshMap.
type Options struct {
	Config *config.MeshLayersConfig
	Mesh   *mesh.Mesh
	Store  layer.AttributeStore

	// Registry defaults to layer.DefaultRegistry().
	Registry *layer.Registry
	// Params defaults to a new reconfig.Mux.
	Params *reconfig.Mux
	// Clock defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

// MeshMap owns a mesh's cost layers and their combined cost.
type MeshMap struct {
	mu sync.Mutex

	cfg      *config.MeshLayersConfig
	mesh     *mesh.Mesh
	store    layer.AttributeStore
	registry *layer.Registry
	params   *reconfig.Mux
	clock    timeutil.Clock

	ctx context.Context

	order  []string
	layers map[string]layer.Layer

	vertexCosts *mesh.DenseVertexMap[float32]

	events *eventHub
}

// New creates a MeshMap without loading any layers.
func New(opts Options) (*MeshMap, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("meshmap: nil config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("meshmap: %w", err)
	}
	if opts.Mesh == nil {
		return nil, fmt.Errorf("meshmap: nil mesh")
	}
	if opts.Registry == nil {
		opts.Registry = layer.DefaultRegistry()
	}
	if opts.Params == nil {
		opts.Params = reconfig.NewMux()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &MeshMap{
		cfg:         opts.Config,
		mesh:        opts.Mesh,
		store:       opts.Store,
		registry:    opts.Registry,
		params:      opts.Params,
		clock:       opts.Clock,
		ctx:         context.Background(),
		layers:      make(map[string]layer.Layer),
		vertexCosts: mesh.NewDenseVertexMap[float32](opts.Mesh.NumVertices(), 0),
		events:      newEventHub(),
	}, nil
}

// SetContext sets the context bounding layer computations started after the
// call.
func (mm *MeshMap) SetContext(ctx context.Context) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.ctx = ctx
}

// LoadLayerPlugins creates and initialises every configured layer in
// configuration order. Any failure unloads the layers created so far.
func (mm *MeshMap) LoadLayerPlugins() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if len(mm.layers) > 0 {
		return fmt.Errorf("layers already loaded")
	}

	for _, name := range mm.cfg.Layers {
		settings, _ := mm.cfg.Settings(name)
		l, err := mm.registry.New(settings.Type)
		if err != nil {
			mm.resetLayersLocked()
			return fmt.Errorf("could not load layer %q: %w", name, err)
		}
		logf("Loaded %s layer plugin %q", settings.Type, name)

		err = l.Initialize(name, layer.Deps{
			Mesh:     mm.mesh,
			Store:    mm.store,
			Params:   mm.params,
			Notify:   mm.layerChanged,
			Settings: settings,
			Locker:   &mm.mu,
			Context:  mm.ctx,
			Workers:  mm.cfg.GetComputeWorkers(),
		})
		if err != nil {
			mm.resetLayersLocked()
			return fmt.Errorf("could not initialize layer %q: %w", name, err)
		}
		mm.layers[name] = l
		mm.order = append(mm.order, name)
	}
	return nil
}

// ReadOrComputeLayers fills every layer, preferring the map file. A layer
// that cannot be read is computed from the mesh and written back. When
// recompute is set, stored values are ignored.
func (mm *MeshMap) ReadOrComputeLayers(recompute bool) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	for _, name := range mm.order {
		l := mm.layers[name]
		if !recompute && l.ReadLayer() {
			logf("Layer %q read from map file", name)
			continue
		}
		start := mm.clock.Now()
		if !l.ComputeLayer() {
			return fmt.Errorf("could not compute layer %q", name)
		}
		logf("Computed layer %q in %v", name, mm.clock.Since(start).Round(time.Millisecond))
		if !l.WriteLayer() {
			logf("WARNING: layer %q was computed but could not be written to the map file", name)
		}
	}
	mm.combineVertexCostsLocked()
	return nil
}

// ComputeLayer recomputes a single layer, writes it and recombines the
// costs.
func (mm *MeshMap) ComputeLayer(name string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	l, ok := mm.layers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchLayer, name)
	}
	if !l.ComputeLayer() {
		return fmt.Errorf("could not compute layer %q", name)
	}
	if !l.WriteLayer() {
		logf("WARNING: layer %q was computed but could not be written to the map file", name)
	}
	mm.combineVertexCostsLocked()
	mm.events.publish(LayerEvent{Layer: name, Kind: EventComputed, Threshold: l.Threshold(), Lethals: len(l.Lethals()), Time: mm.clock.Now()})
	return nil
}

// WriteLayer persists a single layer.
func (mm *MeshMap) WriteLayer(name string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	l, ok := mm.layers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchLayer, name)
	}
	if !l.WriteLayer() {
		return fmt.Errorf("could not write layer %q", name)
	}
	return nil
}

// CombineVertexCosts rebuilds the combined cost of every vertex.
func (mm *MeshMap) CombineVertexCosts() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.combineVertexCostsLocked()
}

// combineVertexCostsLocked sums the normalised, weighted costs of all layers.
// Each layer's non-lethal costs are scaled to [0, factor] by their min and
// max. Lethal vertices of any layer get +Inf.
func (mm *MeshMap) combineVertexCostsLocked() {
	n := mm.mesh.NumVertices()
	combined := make([]float64, n)
	lethal := make(map[mesh.VertexHandle]struct{})

	scratch := make([]float64, n)
	for _, name := range mm.order {
		l := mm.layers[name]
		settings, _ := mm.cfg.Settings(name)
		factor := settings.GetFactor()
		costs := l.Costs()
		lethals := l.Lethals()

		for vh := range lethals {
			lethal[vh] = struct{}{}
		}

		vals := scratch[:0]
		for vh, v := range costs.All() {
			if _, isLethal := lethals[vh]; isLethal || int(vh) >= n {
				continue
			}
			if math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
				continue
			}
			vals = append(vals, float64(v))
		}
		if len(vals) == 0 || factor == 0 {
			continue
		}
		lo, hi := floats.Min(vals), floats.Max(vals)
		norm := hi - lo
		if norm <= 0 {
			logf("Layer %q has uniform cost %g; it does not contribute", name, lo)
			continue
		}
		scale := factor / norm

		def := float64(l.DefaultValue())
		for i := range n {
			vh := mesh.VertexHandle(i)
			v, ok := costs.Get(vh)
			cost := float64(v)
			if !ok || math.IsNaN(cost) || math.IsInf(cost, 0) {
				cost = def
			}
			combined[i] += math.Max(0, cost-lo) * scale
		}
	}

	for vh := range lethal {
		if int(vh) < n {
			combined[vh] = math.Inf(1)
		}
	}

	out := mesh.NewDenseVertexMap[float32](n, 0)
	for i, c := range combined {
		out.Set(mesh.VertexHandle(i), float32(c))
	}
	mm.vertexCosts = out
	logf("Combined costs of %d layers, %d lethal vertices", len(mm.order), len(lethal))
}

// layerChanged is the change notification handed to every layer. The layer
// calls it while the MeshMap lock is held by the reconfigure server.
func (mm *MeshMap) layerChanged(name string) {
	l, ok := mm.layers[name]
	if !ok {
		return
	}
	logf("Layer %q changed, recombining costs", name)
	mm.combineVertexCostsLocked()
	mm.events.publish(LayerEvent{
		Layer:     name,
		Kind:      EventLethalsChanged,
		Threshold: l.Threshold(),
		Lethals:   len(l.Lethals()),
		Time:      mm.clock.Now(),
	})
}

// ResetLayers closes and removes every layer.
func (mm *MeshMap) ResetLayers() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.resetLayersLocked()
}

func (mm *MeshMap) resetLayersLocked() {
	for _, l := range mm.layers {
		l.Close()
	}
	mm.layers = make(map[string]layer.Layer)
	mm.order = nil
}

// Close unloads all layers and closes every event subscription.
func (mm *MeshMap) Close() {
	mm.ResetLayers()
	mm.events.close()
}
