package mesh

import (
	"context"
	"fmt"
	"runtime"

	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"
)

// chunkSize is the number of vertices handed to one worker at a time.
const chunkSize = 4096

// neighborhoodWalker performs breadth-first walks over a mesh. It keeps its
// scratch buffers between walks, so a walker must not be shared between
// goroutines.
type neighborhoodWalker struct {
	m       *Mesh
	stamp   []uint32
	current uint32
	queue   []VertexHandle
}

func newNeighborhoodWalker(m *Mesh) *neighborhoodWalker {
	return &neighborhoodWalker{
		m:     m,
		stamp: make([]uint32, m.NumVertices()),
		queue: make([]VertexHandle, 0, 64),
	}
}

// walk calls visit for start and for every vertex connected to start through
// vertices whose distance to start is below radius.
func (w *neighborhoodWalker) walk(start VertexHandle, radius float32, visit func(VertexHandle)) {
	w.current++
	if w.current == 0 {
		// stamp counter wrapped; reset so stale marks cannot alias
		clear(w.stamp)
		w.current = 1
	}

	origin := w.m.positions[start]
	r2 := radius * radius

	w.queue = append(w.queue[:0], start)
	w.stamp[start] = w.current
	for head := 0; head < len(w.queue); head++ {
		vh := w.queue[head]
		visit(vh)
		for _, nb := range w.m.neighbors[vh] {
			if w.stamp[nb] == w.current {
				continue
			}
			if w.m.positions[nb].Sub(origin).Length2() >= r2 {
				continue
			}
			w.stamp[nb] = w.current
			w.queue = append(w.queue, nb)
		}
	}
}

// VisitLocalVertexNeighborhood calls visit once for vh and once for every
// vertex reachable from vh over mesh edges without leaving the sphere of the
// given radius around vh.
func VisitLocalVertexNeighborhood(m *Mesh, vh VertexHandle, radius float32, visit func(VertexHandle)) {
	if !m.ContainsVertex(vh) {
		return
	}
	newNeighborhoodWalker(m).walk(vh, radius, visit)
}

// VertexHeightDifferences computes, for every vertex, the difference between
// the highest and lowest z value in its local neighbourhood of the given
// radius. Vertices are processed in parallel by up to workers goroutines;
// workers <= 0 uses GOMAXPROCS. The returned map covers every vertex of m.
func VertexHeightDifferences(ctx context.Context, m *Mesh, radius float32, workers int) (*DenseVertexMap[float32], error) {
	if m == nil {
		return nil, fmt.Errorf("nil mesh")
	}
	if radius <= 0 || math32.IsNaN(radius) {
		return nil, fmt.Errorf("radius must be positive, got %f", radius)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	n := m.NumVertices()
	values := make([]float32, n)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunkSize {
		hi := min(lo+chunkSize, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			w := newNeighborhoodWalker(m)
			for i := lo; i < hi; i++ {
				minZ, maxZ := math32.Inf(1), math32.Inf(-1)
				w.walk(VertexHandle(i), radius, func(nb VertexHandle) {
					z := m.positions[nb].Z
					minZ = math32.Min(minZ, z)
					maxZ = math32.Max(maxZ, z)
				})
				values[i] = maxZ - minZ
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("height difference computation: %w", err)
	}
	return DenseVertexMapFromValues(values), nil
}
