package mapfile

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/meshlayers/internal/mesh"
	"github.com/banshee-data/meshlayers/internal/monitoring"
)

// SaveMesh stores the mesh geometry, replacing any previous mesh.
func (mf *MapFile) SaveMesh(m *mesh.Mesh) error {
	if m == nil {
		return fmt.Errorf("nil mesh")
	}
	blob, err := encodeBlob(m.Data())
	if err != nil {
		return fmt.Errorf("encode mesh: %w", err)
	}

	query := `
		INSERT INTO mesh_geometry (id, vertex_count, face_count, geometry_blob, updated_unix_nanos)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vertex_count = excluded.vertex_count,
			face_count = excluded.face_count,
			geometry_blob = excluded.geometry_blob,
			updated_unix_nanos = excluded.updated_unix_nanos
	`
	if _, err := mf.db.Exec(query, m.NumVertices(), m.NumFaces(), blob, mf.clock.Now().UnixNano()); err != nil {
		return fmt.Errorf("insert mesh: %w", err)
	}

	monitoring.Logf("[MapFile] Stored mesh: vertices=%d, faces=%d, blob_size=%d bytes",
		m.NumVertices(), m.NumFaces(), len(blob))
	return nil
}

// LoadMesh returns the stored mesh, or nil, nil if the map file has none.
func (mf *MapFile) LoadMesh() (*mesh.Mesh, error) {
	var blob []byte
	err := mf.db.QueryRow(`SELECT geometry_blob FROM mesh_geometry WHERE id = 1`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query mesh: %w", err)
	}

	var data mesh.Data
	if err := decodeBlob(blob, &data); err != nil {
		return nil, fmt.Errorf("decode mesh: %w", err)
	}
	m, err := mesh.FromData(&data)
	if err != nil {
		return nil, fmt.Errorf("rebuild mesh: %w", err)
	}
	return m, nil
}
