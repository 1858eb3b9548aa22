package layer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/banshee-data/meshlayers/internal/config"
	"github.com/banshee-data/meshlayers/internal/mapfile"
	"github.com/banshee-data/meshlayers/internal/mesh"
	"github.com/banshee-data/meshlayers/internal/monitoring"
	"github.com/banshee-data/meshlayers/internal/reconfig"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// memoryStore is an in-memory AttributeStore.
type memoryStore struct {
	maps map[string]*mesh.DenseVertexMap[float32]
}

func newMemoryStore() *memoryStore {
	return &memoryStore{maps: make(map[string]*mesh.DenseVertexMap[float32])}
}

func (s *memoryStore) GetDenseAttributeMap(name string) (*mesh.DenseVertexMap[float32], error) {
	m, ok := s.maps[name]
	if !ok {
		return nil, nil
	}
	return m.Clone(), nil
}

func (s *memoryStore) AddDenseAttributeMap(m *mesh.DenseVertexMap[float32], name string) error {
	s.maps[name] = m.Clone()
	return nil
}

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) GetDenseAttributeMap(string) (*mesh.DenseVertexMap[float32], error) {
	return nil, errors.New("disk on fire")
}

func (failingStore) AddDenseAttributeMap(*mesh.DenseVertexMap[float32], string) error {
	return errors.New("disk on fire")
}

// captureLogs records log lines for the duration of the test.
func captureLogs(t *testing.T) func() []string {
	t.Helper()
	var mu sync.Mutex
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}
}

func countContaining(lines []string, substr string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

// stepTerrain is a 5x3 grid spaced 0.25 m apart with a 0.5 m step between
// columns 1 and 2. With a 0.6 m radius only columns 1 and 2 see the step.
func stepTerrain(t *testing.T) *mesh.Mesh {
	t.Helper()
	m, err := mesh.NewHeightfield(5, 3, 0.25, func(i, j int) float32 {
		if i >= 2 {
			return 0.5
		}
		return 0
	})
	require.NoError(t, err)
	return m
}

func stepColumn(vh mesh.VertexHandle) int { return int(vh) % 5 }

func settings(threshold, radius float64) config.LayerSettings {
	return config.LayerSettings{
		Type:      HeightDiffLayerType,
		Threshold: &threshold,
		Radius:    &radius,
	}
}

type notifyRecorder struct {
	names []string
}

func (n *notifyRecorder) notify(name string) { n.names = append(n.names, name) }

func newTestLayer(t *testing.T, deps Deps) *HeightDiffLayer {
	t.Helper()
	l := NewHeightDiffLayer()
	require.NoError(t, l.Initialize("height_diff", deps))
	t.Cleanup(l.Close)
	return l
}

// assertLethalInvariant checks lethal == {v : h[v] > threshold}.
func assertLethalInvariant(t *testing.T, l *HeightDiffLayer) {
	t.Helper()
	want := make(map[mesh.VertexHandle]struct{})
	for vh, v := range l.Costs().All() {
		if float64(v) > l.Threshold() {
			want[vh] = struct{}{}
		}
	}
	if diff := cmp.Diff(want, l.Lethals()); diff != "" {
		t.Errorf("lethal set mismatch (-want +got):\n%s", diff)
	}
}

// ---------------------------------------------------------------------------
// Initialize
// ---------------------------------------------------------------------------

func TestInitialize_SeedsParameters(t *testing.T) {
	rec := &notifyRecorder{}
	params := reconfig.NewMux()
	l := newTestLayer(t, Deps{
		Mesh:     stepTerrain(t),
		Params:   params,
		Notify:   rec.notify,
		Settings: settings(0.4, 0.6),
	})

	assert.Equal(t, "height_diff", l.Name())
	assert.Equal(t, HeightDiffConfig{Threshold: 0.4, Radius: 0.6}, l.Config())
	assert.Equal(t, 0.4, l.Threshold())
	assert.Equal(t, float32(0), l.DefaultValue())
	assert.Empty(t, rec.names, "first configuration must not notify")
	assert.Equal(t, 0, l.Costs().Len())
	assert.Empty(t, l.Lethals())

	ep, ok := params.Lookup("height_diff")
	require.True(t, ok)
	assert.Equal(t, HeightDiffConfig{Threshold: 0.4, Radius: 0.6}, ep.Snapshot())
}

func TestInitialize_Defaults(t *testing.T) {
	l := newTestLayer(t, Deps{Settings: config.LayerSettings{Type: HeightDiffLayerType}})
	assert.Equal(t, HeightDiffConfig{Threshold: DefaultHeightDiffThreshold, Radius: DefaultHeightDiffRadius}, l.Config())
}

func TestInitialize_Errors(t *testing.T) {
	l := NewHeightDiffLayer()
	assert.Error(t, l.Initialize("", Deps{}))

	l = NewHeightDiffLayer()
	assert.ErrorContains(t, l.Initialize("height_diff", Deps{Settings: settings(0.3, 5)}), "radius")

	params := reconfig.NewMux()
	first := newTestLayer(t, Deps{Params: params})
	require.NotNil(t, first.Params())

	second := NewHeightDiffLayer()
	assert.ErrorContains(t, second.Initialize("height_diff", Deps{Params: params}), "already registered")
}

func TestClose_Unregisters(t *testing.T) {
	params := reconfig.NewMux()
	l := NewHeightDiffLayer()
	require.NoError(t, l.Initialize("height_diff", Deps{Params: params}))

	server := l.Params()
	l.Close()
	l.Close()

	_, ok := params.Lookup("height_diff")
	assert.False(t, ok)
	assert.Nil(t, l.Params())

	require.NoError(t, server.Update(HeightDiffConfig{Threshold: 1, Radius: 0.3}))
	assert.Equal(t, DefaultHeightDiffThreshold, l.Threshold(), "closed layer must not receive updates")
}

// ---------------------------------------------------------------------------
// ComputeLayer
// ---------------------------------------------------------------------------

func TestComputeLayer_StepTerrain(t *testing.T) {
	l := newTestLayer(t, Deps{Mesh: stepTerrain(t), Settings: settings(0.3, 0.6)})

	require.True(t, l.ComputeLayer())
	require.Equal(t, 15, l.Costs().Len())
	for vh, v := range l.Costs().All() {
		col := stepColumn(vh)
		if col == 1 || col == 2 {
			assert.InDelta(t, 0.5, v, 1e-6, "vertex %d", vh)
		} else {
			assert.InDelta(t, 0, v, 1e-6, "vertex %d", vh)
		}
	}
	assert.Len(t, l.Lethals(), 6)
	assertLethalInvariant(t, l)
}

func TestComputeLayer_ReplacesMap(t *testing.T) {
	l := newTestLayer(t, Deps{Mesh: stepTerrain(t), Settings: settings(0.3, 0.6)})
	require.True(t, l.ComputeLayer())
	require.Len(t, l.Lethals(), 6)

	small, err := mesh.NewHeightfield(2, 2, 0.25, func(int, int) float32 { return 0 })
	require.NoError(t, err)
	l.deps.Mesh = small

	require.True(t, l.ComputeLayer())
	assert.Equal(t, 4, l.Costs().Len())
	assert.Equal(t, []float32{0, 0, 0, 0}, l.Costs().Values())
	assert.Empty(t, l.Lethals())
}

func TestComputeLayer_Failures(t *testing.T) {
	l := newTestLayer(t, Deps{})
	assert.False(t, l.ComputeLayer(), "no mesh")

	l = newTestLayer(t, Deps{Mesh: stepTerrain(t), Settings: settings(0.3, 0.6)})
	require.True(t, l.ComputeLayer())
	before := l.Costs()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.deps.Context = ctx
	assert.False(t, l.ComputeLayer())
	assert.Same(t, before, l.Costs(), "failed compute must keep the previous map")
}

// ---------------------------------------------------------------------------
// ReadLayer / WriteLayer
// ---------------------------------------------------------------------------

func TestReadLayer_Absent(t *testing.T) {
	l := newTestLayer(t, Deps{Mesh: stepTerrain(t), Store: newMemoryStore()})
	before := l.Costs()

	assert.False(t, l.ReadLayer())
	assert.Same(t, before, l.Costs())
	assert.Empty(t, l.Lethals())
}

func TestReadLayer_InstallsStoredMap(t *testing.T) {
	store := newMemoryStore()
	store.maps[HeightDiffAttribute] = mesh.DenseVertexMapFromValues([]float32{0.1, 0.5, 0.3, 0.31})
	m, err := mesh.NewHeightfield(2, 2, 1, func(int, int) float32 { return 0 })
	require.NoError(t, err)

	l := newTestLayer(t, Deps{Mesh: m, Store: store, Settings: settings(0.3, 0.3)})
	require.True(t, l.ReadLayer())

	assert.Equal(t, []float32{0.1, 0.5, 0.3, 0.31}, l.Costs().Values())
	// float32(0.3) rounds up past the float64 threshold.
	assert.Equal(t, map[mesh.VertexHandle]struct{}{1: {}, 2: {}, 3: {}}, l.Lethals())
	assertLethalInvariant(t, l)
}

func TestReadLayer_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		value     float32
		lethal    bool
	}{
		{"float32 rounds above", 0.3, float32(0.3), true},
		{"float32 rounds below", 0.7, float32(0.7), false},
		{"exactly representable", 0.5, 0.5, false},
		{"threshold between float32 neighbours", float64(float32(0.7)) + 1e-12, float32(0.7), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			store.maps[HeightDiffAttribute] = mesh.DenseVertexMapFromValues([]float32{tt.value, 0, 0, 0})
			m, err := mesh.NewHeightfield(2, 2, 1, func(int, int) float32 { return 0 })
			require.NoError(t, err)

			l := newTestLayer(t, Deps{Mesh: m, Store: store, Settings: settings(tt.threshold, 0.3)})
			require.True(t, l.ReadLayer())

			_, got := l.Lethals()[0]
			assert.Equal(t, tt.lethal, got)
			assertLethalInvariant(t, l)
		})
	}
}

func TestReadLayer_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		store AttributeStore
	}{
		{"no store", nil},
		{"store error", failingStore{}},
		{"vertex count mismatch", &memoryStore{maps: map[string]*mesh.DenseVertexMap[float32]{
			HeightDiffAttribute: mesh.DenseVertexMapFromValues([]float32{1, 2}),
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLayer(t, Deps{Mesh: stepTerrain(t), Store: tt.store})
			assert.False(t, l.ReadLayer())
			assert.Equal(t, 0, l.Costs().Len())
		})
	}
}

func TestWriteLayer_Failures(t *testing.T) {
	logs := captureLogs(t)

	l := newTestLayer(t, Deps{Mesh: stepTerrain(t)})
	assert.False(t, l.WriteLayer())

	l = newTestLayer(t, Deps{Mesh: stepTerrain(t), Store: failingStore{}})
	assert.False(t, l.WriteLayer())

	assert.Equal(t, 2, countContaining(logs(), "ERROR: Could not save height differences"))
}

func TestWriteRead_RoundTrip(t *testing.T) {
	terrain := stepTerrain(t)

	mf, err := mapfile.Open(filepath.Join(t.TempDir(), "map.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mf.Close() })

	stores := map[string]AttributeStore{
		"memory":  newMemoryStore(),
		"mapfile": mf,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			writer := NewHeightDiffLayer()
			require.NoError(t, writer.Initialize("height_diff", Deps{Mesh: terrain, Store: store, Settings: settings(0.3, 0.6)}))
			defer writer.Close()
			require.True(t, writer.ComputeLayer())
			require.True(t, writer.WriteLayer())

			reader := NewHeightDiffLayer()
			require.NoError(t, reader.Initialize("height_diff", Deps{Mesh: terrain, Store: store, Settings: settings(0.3, 0.6)}))
			defer reader.Close()
			require.True(t, reader.ReadLayer())

			if diff := cmp.Diff(writer.Costs().Values(), reader.Costs().Values()); diff != "" {
				t.Errorf("height differences mismatch (-written +read):\n%s", diff)
			}
			if diff := cmp.Diff(writer.Lethals(), reader.Lethals()); diff != "" {
				t.Errorf("lethal set mismatch (-written +read):\n%s", diff)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Reconfiguration
// ---------------------------------------------------------------------------

func TestReconfigure_ThresholdChange(t *testing.T) {
	logs := captureLogs(t)
	rec := &notifyRecorder{}
	l := newTestLayer(t, Deps{Mesh: stepTerrain(t), Notify: rec.notify, Settings: settings(0.3, 0.6)})
	require.True(t, l.ComputeLayer())
	require.Len(t, l.Lethals(), 6)
	rebuildsBefore := countContaining(logs(), "Compute lethals")

	require.NoError(t, l.Params().Update(HeightDiffConfig{Threshold: 0.6, Radius: 0.6}))

	assert.Equal(t, []string{"height_diff"}, rec.names)
	assert.Equal(t, 1, countContaining(logs(), "Compute lethals")-rebuildsBefore)
	assert.Equal(t, 0.6, l.Threshold())
	assert.Empty(t, l.Lethals())
	assertLethalInvariant(t, l)
}

func TestReconfigure_RadiusOnly(t *testing.T) {
	logs := captureLogs(t)
	rec := &notifyRecorder{}
	l := newTestLayer(t, Deps{Mesh: stepTerrain(t), Notify: rec.notify, Settings: settings(0.3, 0.6)})
	require.True(t, l.ComputeLayer())
	costs := l.Costs()
	rebuildsBefore := countContaining(logs(), "Compute lethals")

	require.NoError(t, l.Params().Update(HeightDiffConfig{Threshold: 0.3, Radius: 0.1}))

	assert.Empty(t, rec.names)
	assert.Equal(t, 0, countContaining(logs(), "Compute lethals")-rebuildsBefore)
	assert.Equal(t, 0.1, l.Config().Radius)
	assert.Same(t, costs, l.Costs())
	assert.Len(t, l.Lethals(), 6)

	// The new radius applies to the next full computation.
	require.True(t, l.ComputeLayer())
	assert.Empty(t, l.Lethals())
}

func TestReconfigure_ThroughMux(t *testing.T) {
	rec := &notifyRecorder{}
	params := reconfig.NewMux()
	var mu sync.Mutex
	l := newTestLayer(t, Deps{
		Mesh:     stepTerrain(t),
		Params:   params,
		Notify:   rec.notify,
		Settings: settings(0.3, 0.6),
		Locker:   &mu,
	})
	require.True(t, l.ComputeLayer())

	ep, ok := params.Lookup("height_diff")
	require.True(t, ok)
	require.NoError(t, ep.Apply([]byte(`{"threshold": 0.45}`)))
	assert.Equal(t, []string{"height_diff"}, rec.names)
	assert.Equal(t, HeightDiffConfig{Threshold: 0.45, Radius: 0.6}, l.Config())
	assert.Len(t, l.Lethals(), 6)

	assert.Error(t, ep.Apply([]byte(`{"threshold": 11}`)))
	assert.Equal(t, 0.45, l.Threshold())
	assert.Len(t, rec.names, 1)
}

func TestHeightDiffConfig_Validate(t *testing.T) {
	tests := []struct {
		cfg     HeightDiffConfig
		wantErr bool
	}{
		{HeightDiffConfig{Threshold: 0, Radius: 0.01}, false},
		{HeightDiffConfig{Threshold: 10, Radius: 1}, false},
		{HeightDiffConfig{Threshold: -0.1, Radius: 0.3}, true},
		{HeightDiffConfig{Threshold: 10.1, Radius: 0.3}, true},
		{HeightDiffConfig{Threshold: 0.3, Radius: 0}, true},
		{HeightDiffConfig{Threshold: 0.3, Radius: 1.5}, true},
	}
	for _, tt := range tests {
		err := tt.cfg.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%+v) error = %v, wantErr %v", tt.cfg, err, tt.wantErr)
		}
	}
}
