package meshmap

import (
	"errors"
	"sort"

	"github.com/banshee-data/meshlayers/internal/layer"
	"github.com/banshee-data/meshlayers/internal/mesh"
	"github.com/banshee-data/meshlayers/internal/reconfig"
)

// ErrNoSuchLayer is returned for operations on layers that are not loaded.
var ErrNoSuchLayer = errors.New("no such layer")

// LayerInfo summarises a loaded layer.
type LayerInfo struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Factor    float64 `json:"factor"`
	Threshold float64 `json:"threshold"`
	Vertices  int     `json:"vertices"`
	Lethals   int     `json:"lethal_vertices"`
}

// Layer returns the loaded layer called name, or nil.
func (mm *MeshMap) Layer(name string) layer.Layer {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.layers[name]
}

// Layers returns the loaded layers in load order.
func (mm *MeshMap) Layers() []LayerInfo {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	infos := make([]LayerInfo, 0, len(mm.order))
	for _, name := range mm.order {
		infos = append(infos, mm.layerInfoLocked(name))
	}
	return infos
}

// LayerInfo returns the summary of a single layer.
func (mm *MeshMap) LayerInfo(name string) (LayerInfo, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, ok := mm.layers[name]; !ok {
		return LayerInfo{}, ErrNoSuchLayer
	}
	return mm.layerInfoLocked(name), nil
}

func (mm *MeshMap) layerInfoLocked(name string) LayerInfo {
	l := mm.layers[name]
	settings, _ := mm.cfg.Settings(name)
	return LayerInfo{
		Name:      name,
		Type:      settings.Type,
		Factor:    settings.GetFactor(),
		Threshold: l.Threshold(),
		Vertices:  l.Costs().Len(),
		Lethals:   len(l.Lethals()),
	}
}

// LethalVertices returns the sorted lethal vertices of a layer.
func (mm *MeshMap) LethalVertices(name string) ([]mesh.VertexHandle, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	l, ok := mm.layers[name]
	if !ok {
		return nil, ErrNoSuchLayer
	}
	out := make([]mesh.VertexHandle, 0, len(l.Lethals()))
	for vh := range l.Lethals() {
		out = append(out, vh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// LayerCosts returns a copy of a layer's per-vertex costs.
func (mm *MeshMap) LayerCosts(name string) ([]float32, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	l, ok := mm.layers[name]
	if !ok {
		return nil, ErrNoSuchLayer
	}
	return l.Costs().Values(), nil
}

// VertexCosts returns a copy of the combined per-vertex costs.
func (mm *MeshMap) VertexCosts() *mesh.DenseVertexMap[float32] {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.vertexCosts.Clone()
}

// Mesh returns the mesh the layers are computed on.
func (mm *MeshMap) Mesh() *mesh.Mesh {
	return mm.mesh
}

// Params returns the reconfigure mux the layers register with.
func (mm *MeshMap) Params() *reconfig.Mux {
	return mm.params
}
