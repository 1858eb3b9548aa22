package layer

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/meshlayers/internal/mesh"
	"github.com/banshee-data/meshlayers/internal/monitoring"
	"github.com/banshee-data/meshlayers/internal/reconfig"
)

// HeightDiffAttribute is the attribute store key of the height difference map.
const HeightDiffAttribute = "height_diff"

// Height difference parameter defaults and limits.
const (
	DefaultHeightDiffThreshold = 0.3
	DefaultHeightDiffRadius    = 0.3

	MaxHeightDiffThreshold = 10.0
	MinHeightDiffRadius    = 0.01
	MaxHeightDiffRadius    = 1.0
)

var hdLogf = monitoring.Component("HeightDiffLayer")

// HeightDiffConfig holds the reconfigurable parameters of a HeightDiffLayer.
type HeightDiffConfig struct {
	// Threshold is the height difference in metres above which a vertex is
	// lethal.
	Threshold float64 `json:"threshold"`
	// Radius is the neighbourhood radius in metres used by ComputeLayer.
	Radius float64 `json:"radius"`
}

// Validate checks that both parameters are within their limits.
func (c HeightDiffConfig) Validate() error {
	if c.Threshold < 0 || c.Threshold > MaxHeightDiffThreshold {
		return fmt.Errorf("threshold must be in [0, %g], got %g", MaxHeightDiffThreshold, c.Threshold)
	}
	if c.Radius < MinHeightDiffRadius || c.Radius > MaxHeightDiffRadius {
		return fmt.Errorf("radius must be in [%g, %g], got %g", MinHeightDiffRadius, MaxHeightDiffRadius, c.Radius)
	}
	return nil
}

// HeightDiffLayer marks vertices whose local height difference exceeds a
// threshold as lethal.
//
// The cost of a vertex is the difference between the highest and lowest
// vertex within Radius of it. Threshold changes rebuild the lethal set and
// notify the host. Radius changes only take effect on the next ComputeLayer.
type HeightDiffLayer struct {
	name string
	deps Deps

	config      HeightDiffConfig
	firstConfig bool
	server      *reconfig.Server[HeightDiffConfig]

	heightDiff *mesh.DenseVertexMap[float32]
	lethals    map[mesh.VertexHandle]struct{}
}

// NewHeightDiffLayer returns an uninitialised layer with an empty height
// difference map.
func NewHeightDiffLayer() *HeightDiffLayer {
	return &HeightDiffLayer{
		config: HeightDiffConfig{
			Threshold: DefaultHeightDiffThreshold,
			Radius:    DefaultHeightDiffRadius,
		},
		heightDiff: mesh.NewDenseVertexMap[float32](0, 0),
		lethals:    make(map[mesh.VertexHandle]struct{}),
	}
}

// Initialize seeds the parameters from deps.Settings, creates the layer's
// reconfigure server and subscribes to it. The server delivers the seeded
// parameters immediately, which the layer adopts without recomputing.
func (l *HeightDiffLayer) Initialize(name string, deps Deps) error {
	if name == "" {
		return fmt.Errorf("layer name must not be empty")
	}
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	l.name = name
	l.deps = deps

	initial := HeightDiffConfig{
		Threshold: deps.Settings.GetThreshold(DefaultHeightDiffThreshold),
		Radius:    deps.Settings.GetRadius(DefaultHeightDiffRadius),
	}
	if err := initial.Validate(); err != nil {
		return fmt.Errorf("layer %q: %w", name, err)
	}

	l.firstConfig = true
	l.server = reconfig.NewServer(initial, deps.Locker)
	l.server.SetCallback(l.reconfigureCallback)

	if deps.Params != nil {
		if err := deps.Params.Register(name, l.server); err != nil {
			l.server.ClearCallback()
			return fmt.Errorf("layer %q: %w", name, err)
		}
	}
	return nil
}

// ReadLayer loads the height difference map from the attribute store and
// rebuilds the lethal set. A stored map that does not cover exactly the
// vertices of the current mesh is ignored.
func (l *HeightDiffLayer) ReadLayer() bool {
	hdLogf("Try to read height differences from map file...")
	if l.deps.Store == nil {
		hdLogf("No attribute store configured for %q", l.name)
		return false
	}
	m, err := l.deps.Store.GetDenseAttributeMap(HeightDiffAttribute)
	if err != nil {
		hdLogf("Could not read height differences: %v", err)
		return false
	}
	if m == nil {
		hdLogf("No height differences stored in map file")
		return false
	}
	if l.deps.Mesh != nil && m.Len() != l.deps.Mesh.NumVertices() {
		hdLogf("Ignoring stored height differences: %d values for %d vertices", m.Len(), l.deps.Mesh.NumVertices())
		return false
	}

	hdLogf("Height differences have been read successfully.")
	l.heightDiff = m
	l.computeLethals()
	return true
}

// WriteLayer saves the height difference map to the attribute store.
func (l *HeightDiffLayer) WriteLayer() bool {
	hdLogf("Saving height differences to map file...")
	if l.deps.Store == nil {
		hdLogf("ERROR: Could not save height differences to map file: no attribute store")
		return false
	}
	if err := l.deps.Store.AddDenseAttributeMap(l.heightDiff, HeightDiffAttribute); err != nil {
		hdLogf("ERROR: Could not save height differences to map file: %v", err)
		return false
	}
	hdLogf("Saved height differences to map file.")
	return true
}

// ComputeLayer recomputes the height difference of every vertex with the
// current radius and rebuilds the lethal set. On failure the previous map is
// kept.
func (l *HeightDiffLayer) ComputeLayer() bool {
	if l.deps.Mesh == nil {
		hdLogf("ERROR: Cannot compute %q without a mesh", l.name)
		return false
	}
	ctx := l.deps.Context
	if ctx == nil {
		ctx = context.Background()
	}
	hd, err := mesh.VertexHeightDifferences(ctx, l.deps.Mesh, float32(l.config.Radius), l.deps.Workers)
	if err != nil {
		hdLogf("ERROR: Could not compute height differences for %q: %v", l.name, err)
		return false
	}
	l.heightDiff = hd
	l.computeLethals()
	return true
}

// computeLethals replaces the lethal set with every vertex whose height
// difference is strictly greater than the threshold.
func (l *HeightDiffLayer) computeLethals() {
	hdLogf("Compute lethals for %q (Height Differences Layer) with threshold %g", l.name, l.config.Threshold)
	clear(l.lethals)
	for vh, v := range l.heightDiff.All() {
		if float64(v) > l.config.Threshold {
			l.lethals[vh] = struct{}{}
		}
	}

	n := l.heightDiff.Len()
	if n == 0 {
		hdLogf("Found %d lethal vertices.", len(l.lethals))
		return
	}
	values := make([]float64, 0, n)
	for _, v := range l.heightDiff.All() {
		values = append(values, float64(v))
	}
	mean, std := stat.MeanStdDev(values, nil)
	hdLogf("Found %d lethal vertices of %d (height difference mean=%.3f std=%.3f)", len(l.lethals), n, mean, std)
}

// reconfigureCallback adopts a new parameter snapshot. The first snapshot is
// taken as is. Afterwards only a threshold change rebuilds the lethal set and
// notifies the host.
func (l *HeightDiffLayer) reconfigureCallback(cfg HeightDiffConfig) {
	hdLogf("New height diff layer config for %q: threshold=%g radius=%g", l.name, cfg.Threshold, cfg.Radius)

	if l.firstConfig {
		l.config = cfg
		l.firstConfig = false
		return
	}

	notify := false
	if l.config.Threshold != cfg.Threshold {
		l.config.Threshold = cfg.Threshold
		l.computeLethals()
		notify = true
	}

	l.config = cfg
	if notify && l.deps.Notify != nil {
		l.deps.Notify(l.name)
	}
}

// Params returns the layer's reconfigure server, or nil before Initialize.
func (l *HeightDiffLayer) Params() *reconfig.Server[HeightDiffConfig] {
	return l.server
}

// Config returns the parameters currently in effect.
func (l *HeightDiffLayer) Config() HeightDiffConfig {
	return l.config
}

// Costs returns the per-vertex height differences. The map is replaced, not
// mutated, by ReadLayer and ComputeLayer.
func (l *HeightDiffLayer) Costs() *mesh.DenseVertexMap[float32] { return l.heightDiff }

// Lethals implements Layer.
func (l *HeightDiffLayer) Lethals() map[mesh.VertexHandle]struct{} { return l.lethals }

// Threshold implements Layer.
func (l *HeightDiffLayer) Threshold() float64 { return l.config.Threshold }

// DefaultValue implements Layer. Vertices without a value count as flat.
func (l *HeightDiffLayer) DefaultValue() float32 { return 0 }

// Name implements Layer.
func (l *HeightDiffLayer) Name() string { return l.name }

// Close unsubscribes from the reconfigure server and removes it from the
// host's parameter registrar.
func (l *HeightDiffLayer) Close() {
	if l.server == nil {
		return
	}
	l.server.ClearCallback()
	if l.deps.Params != nil {
		l.deps.Params.Unregister(l.name)
	}
	l.server = nil
}
