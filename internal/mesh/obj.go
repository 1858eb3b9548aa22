package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadOBJ reads a Wavefront OBJ file from disk.
func LoadOBJ(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mesh file: %w", err)
	}
	defer f.Close()

	m, err := ImportOBJ(f)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}
	return m, nil
}

// ImportOBJ parses vertex ("v") and face ("f") records of a Wavefront OBJ
// stream. Polygons with more than three corners are fan-triangulated.
// Texture and normal indices ("1/2/3") are ignored. Negative indices are
// resolved relative to the vertices read so far.
func ImportOBJ(r io.Reader) (*Mesh, error) {
	var positions []Vec3
	var faces []Face

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			p, err := parseVertex(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			positions = append(positions, p)
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs at least 3 vertices, found %d", lineNo, len(fields)-1)
			}
			corners := make([]VertexHandle, 0, len(fields)-1)
			for _, tok := range fields[1:] {
				vh, err := parseFaceVertex(tok, len(positions))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				corners = append(corners, vh)
			}
			for j := 1; j+1 < len(corners); j++ {
				faces = append(faces, Face{corners[0], corners[j], corners[j+1]})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read obj: %w", err)
	}

	return New(positions, faces)
}

func parseVertex(coords []string) (Vec3, error) {
	if len(coords) < 3 {
		return Vec3{}, fmt.Errorf("invalid vertex, expected 3 coordinates, found %d", len(coords))
	}
	var xyz [3]float32
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(coords[i], 32)
		if err != nil {
			return Vec3{}, fmt.Errorf("invalid vertex coordinate %q: %w", coords[i], err)
		}
		xyz[i] = float32(f)
	}
	return Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

func parseFaceVertex(tok string, numVertices int) (VertexHandle, error) {
	idxStr, _, _ := strings.Cut(tok, "/")
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return 0, fmt.Errorf("invalid face vertex %q: %w", tok, err)
	}
	switch {
	case idx > 0:
		idx--
	case idx < 0:
		idx += numVertices
	default:
		return 0, fmt.Errorf("invalid face vertex index 0")
	}
	if idx < 0 || idx >= numVertices {
		return 0, fmt.Errorf("face vertex %q out of range (%d vertices)", tok, numVertices)
	}
	return VertexHandle(idx), nil
}
