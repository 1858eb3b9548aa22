// Package terrain generates synthetic heightfield meshes from perlin noise,
// for demos and for exercising the cost layers without a recorded map.
package terrain

import (
	"fmt"

	"github.com/aquilax/go-perlin"

	"github.com/banshee-data/meshlayers/internal/mesh"
)

const (
	// DefaultSpacing is the distance between grid samples in metres.
	DefaultSpacing = 0.1

	hillFrequency = 0.05
	rockFrequency = 0.4
)

// Generator produces rolling terrain with small rocky details.
type Generator struct {
	hills *perlin.Perlin // low frequency ground shape
	rocks *perlin.Perlin // high frequency details

	// HillHeight and RockHeight scale the two noise layers in metres.
	HillHeight float64
	RockHeight float64
}

// New creates a Generator with a seed. The same seed always produces the
// same terrain.
func New(seed int64) *Generator {
	return &Generator{
		hills:      perlin.NewPerlin(2, 2, 3, seed),
		rocks:      perlin.NewPerlin(1.5, 2, 4, seed+1),
		HillHeight: 2.0,
		RockHeight: 0.4,
	}
}

// Height returns the terrain height at grid sample (i, j).
func (g *Generator) Height(i, j int) float32 {
	x, y := float64(i), float64(j)
	h := g.hills.Noise2D(x*hillFrequency, y*hillFrequency) * g.HillHeight
	r := g.rocks.Noise2D(x*rockFrequency, y*rockFrequency)
	if r > 0 {
		// only bumps, no pits
		h += r * g.RockHeight
	}
	return float32(h)
}

// Mesh triangulates a size x size grid of samples spaced spacing metres
// apart.
func (g *Generator) Mesh(size int, spacing float32) (*mesh.Mesh, error) {
	if size < 2 {
		return nil, fmt.Errorf("terrain size must be at least 2, got %d", size)
	}
	return mesh.NewHeightfield(size, size, spacing, g.Height)
}
