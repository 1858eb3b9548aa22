// Package mesh holds the triangulated surface model the cost layers operate on.
//
// Key types: Mesh, VertexHandle, DenseVertexMap.
// A Mesh is immutable once built; layers borrow it and never modify it.
package mesh

import (
	"fmt"
	"iter"
	"sort"

	"github.com/chewxy/math32"
)

// VertexHandle identifies a vertex of a Mesh. Handles are dense, starting at 0.
type VertexHandle uint32

// Vec3 is a vertex position in map coordinates (metres, z up).
type Vec3 struct {
	X, Y, Z float32
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Length2 returns the squared Euclidean length of v.
func (v Vec3) Length2() float32 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// Distance returns the Euclidean distance between v and o.
func (v Vec3) Distance(o Vec3) float32 {
	return math32.Sqrt(v.Sub(o).Length2())
}

// Face is a triangle given by three vertex handles in counter-clockwise order.
type Face [3]VertexHandle

// Data is the serialisable form of a Mesh.
type Data struct {
	Positions []Vec3
	Faces     []Face
}

// Mesh is a triangle mesh with precomputed vertex adjacency.
type Mesh struct {
	positions []Vec3
	faces     []Face
	neighbors [][]VertexHandle
}

// New builds a mesh from vertex positions and triangles. Every face must
// reference existing vertices and must not be degenerate (repeated vertex).
func New(positions []Vec3, faces []Face) (*Mesh, error) {
	n := len(positions)
	for i, f := range faces {
		for _, vh := range f {
			if int(vh) >= n {
				return nil, fmt.Errorf("face %d references vertex %d, mesh has %d vertices", i, vh, n)
			}
		}
		if f[0] == f[1] || f[1] == f[2] || f[0] == f[2] {
			return nil, fmt.Errorf("face %d is degenerate: %v", i, f)
		}
	}

	m := &Mesh{
		positions: append([]Vec3(nil), positions...),
		faces:     append([]Face(nil), faces...),
	}
	m.buildAdjacency()
	return m, nil
}

// FromData rebuilds a mesh from its serialisable form.
func FromData(d *Data) (*Mesh, error) {
	if d == nil {
		return nil, fmt.Errorf("nil mesh data")
	}
	return New(d.Positions, d.Faces)
}

// Data returns a copy of the mesh in serialisable form.
func (m *Mesh) Data() *Data {
	return &Data{
		Positions: append([]Vec3(nil), m.positions...),
		Faces:     append([]Face(nil), m.faces...),
	}
}

func (m *Mesh) buildAdjacency() {
	sets := make([]map[VertexHandle]struct{}, len(m.positions))
	link := func(a, b VertexHandle) {
		if sets[a] == nil {
			sets[a] = make(map[VertexHandle]struct{}, 6)
		}
		sets[a][b] = struct{}{}
	}
	for _, f := range m.faces {
		for i := 0; i < 3; i++ {
			a, b := f[i], f[(i+1)%3]
			link(a, b)
			link(b, a)
		}
	}

	m.neighbors = make([][]VertexHandle, len(m.positions))
	for vh, set := range sets {
		nbrs := make([]VertexHandle, 0, len(set))
		for nb := range set {
			nbrs = append(nbrs, nb)
		}
		sort.Slice(nbrs, func(i, j int) bool { return nbrs[i] < nbrs[j] })
		m.neighbors[vh] = nbrs
	}
}

// NumVertices returns the number of vertices.
func (m *Mesh) NumVertices() int { return len(m.positions) }

// NumFaces returns the number of triangles.
func (m *Mesh) NumFaces() int { return len(m.faces) }

// ContainsVertex reports whether vh is a vertex of the mesh.
func (m *Mesh) ContainsVertex(vh VertexHandle) bool {
	return int(vh) < len(m.positions)
}

// Position returns the position of vh. It panics if vh is out of range.
func (m *Mesh) Position(vh VertexHandle) Vec3 {
	return m.positions[vh]
}

// Neighbors returns the vertices sharing an edge with vh, sorted by handle.
// The returned slice is owned by the mesh.
func (m *Mesh) Neighbors(vh VertexHandle) []VertexHandle {
	return m.neighbors[vh]
}

// Faces returns the mesh triangles. The returned slice is owned by the mesh.
func (m *Mesh) Faces() []Face { return m.faces }

// Vertices iterates over all vertex handles in ascending order.
func (m *Mesh) Vertices() iter.Seq[VertexHandle] {
	return func(yield func(VertexHandle) bool) {
		for i := range m.positions {
			if !yield(VertexHandle(i)) {
				return
			}
		}
	}
}

// Bounds returns the axis-aligned bounding box of the mesh. An empty mesh
// returns two zero vectors.
func (m *Mesh) Bounds() (lo, hi Vec3) {
	if len(m.positions) == 0 {
		return Vec3{}, Vec3{}
	}
	inf := math32.Inf(1)
	lo = Vec3{X: inf, Y: inf, Z: inf}
	hi = Vec3{X: -inf, Y: -inf, Z: -inf}
	for _, p := range m.positions {
		lo.X, hi.X = math32.Min(lo.X, p.X), math32.Max(hi.X, p.X)
		lo.Y, hi.Y = math32.Min(lo.Y, p.Y), math32.Max(hi.Y, p.Y)
		lo.Z, hi.Z = math32.Min(lo.Z, p.Z), math32.Max(hi.Z, p.Z)
	}
	return lo, hi
}
