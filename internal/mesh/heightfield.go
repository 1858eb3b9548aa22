package mesh

import "fmt"

// NewHeightfield triangulates a regular cols x rows grid of samples spaced
// spacing metres apart. height(i, j) gives the z value of column i, row j.
// Each grid cell is split into two triangles along the same diagonal.
func NewHeightfield(cols, rows int, spacing float32, height func(i, j int) float32) (*Mesh, error) {
	if cols < 2 || rows < 2 {
		return nil, fmt.Errorf("heightfield needs at least 2x2 samples, got %dx%d", cols, rows)
	}
	if spacing <= 0 {
		return nil, fmt.Errorf("heightfield spacing must be positive, got %f", spacing)
	}

	positions := make([]Vec3, 0, cols*rows)
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			positions = append(positions, Vec3{
				X: float32(i) * spacing,
				Y: float32(j) * spacing,
				Z: height(i, j),
			})
		}
	}

	idx := func(i, j int) VertexHandle { return VertexHandle(j*cols + i) }
	faces := make([]Face, 0, 2*(cols-1)*(rows-1))
	for j := 0; j < rows-1; j++ {
		for i := 0; i < cols-1; i++ {
			faces = append(faces,
				Face{idx(i, j), idx(i+1, j), idx(i+1, j+1)},
				Face{idx(i, j), idx(i+1, j+1), idx(i, j+1)},
			)
		}
	}
	return New(positions, faces)
}
