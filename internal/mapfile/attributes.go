package mapfile

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/meshlayers/internal/mesh"
	"github.com/banshee-data/meshlayers/internal/monitoring"
	"github.com/chewxy/math32"
	"github.com/google/uuid"
)

// AttributeInfo describes a stored dense attribute map without its values.
type AttributeInfo struct {
	Name             string   `json:"name"`
	VertexCount      int      `json:"vertex_count"`
	Revision         string   `json:"revision"`
	MinValue         *float64 `json:"min_value,omitempty"`
	MaxValue         *float64 `json:"max_value,omitempty"`
	UpdatedUnixNanos int64    `json:"updated_unix_nanos"`
}

// attributeBlob is the gob payload of a dense attribute row.
type attributeBlob struct {
	Values []float32
}

// AddDenseAttributeMap stores m under name, replacing any previous map with
// that name. Each write gets a fresh revision id.
func (mf *MapFile) AddDenseAttributeMap(m *mesh.DenseVertexMap[float32], name string) error {
	if m == nil {
		return fmt.Errorf("nil attribute map %q", name)
	}
	if name == "" {
		return fmt.Errorf("attribute name must not be empty")
	}

	values := m.Values()
	blob, err := encodeBlob(attributeBlob{Values: values})
	if err != nil {
		return fmt.Errorf("encode attribute %q: %w", name, err)
	}

	var minV, maxV sql.NullFloat64
	if len(values) > 0 {
		lo, hi := math32.Inf(1), math32.Inf(-1)
		for _, v := range values {
			lo = math32.Min(lo, v)
			hi = math32.Max(hi, v)
		}
		minV = sql.NullFloat64{Float64: float64(lo), Valid: true}
		maxV = sql.NullFloat64{Float64: float64(hi), Valid: true}
	}

	revision := uuid.New().String()
	query := `
		INSERT INTO dense_attributes (name, vertex_count, revision, values_blob, updated_unix_nanos, min_value, max_value)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			vertex_count = excluded.vertex_count,
			revision = excluded.revision,
			values_blob = excluded.values_blob,
			updated_unix_nanos = excluded.updated_unix_nanos,
			min_value = excluded.min_value,
			max_value = excluded.max_value
	`
	if _, err := mf.db.Exec(query, name, len(values), revision, blob, mf.clock.Now().UnixNano(), minV, maxV); err != nil {
		return fmt.Errorf("insert attribute %q: %w", name, err)
	}

	monitoring.Logf("[MapFile] Stored attribute %q: vertices=%d, revision=%s, blob_size=%d bytes",
		name, len(values), revision, len(blob))
	return nil
}

// GetDenseAttributeMap loads the attribute map stored under name.
// Returns nil, nil if no such attribute exists.
func (mf *MapFile) GetDenseAttributeMap(name string) (*mesh.DenseVertexMap[float32], error) {
	var vertexCount int
	var blob []byte
	err := mf.db.QueryRow(
		`SELECT vertex_count, values_blob FROM dense_attributes WHERE name = ?`, name,
	).Scan(&vertexCount, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query attribute %q: %w", name, err)
	}

	var payload attributeBlob
	if err := decodeBlob(blob, &payload); err != nil {
		return nil, fmt.Errorf("decode attribute %q: %w", name, err)
	}
	if len(payload.Values) != vertexCount {
		return nil, fmt.Errorf("attribute %q is corrupt: header says %d vertices, blob has %d",
			name, vertexCount, len(payload.Values))
	}
	return mesh.DenseVertexMapFromValues(payload.Values), nil
}

// ListAttributes returns metadata for every stored attribute, sorted by name.
func (mf *MapFile) ListAttributes() ([]AttributeInfo, error) {
	rows, err := mf.db.Query(`
		SELECT name, vertex_count, revision, min_value, max_value, updated_unix_nanos
		FROM dense_attributes
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list attributes: %w", err)
	}
	defer rows.Close()

	var infos []AttributeInfo
	for rows.Next() {
		var info AttributeInfo
		var minV, maxV sql.NullFloat64
		if err := rows.Scan(&info.Name, &info.VertexCount, &info.Revision, &minV, &maxV, &info.UpdatedUnixNanos); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		if minV.Valid {
			info.MinValue = &minV.Float64
		}
		if maxV.Valid {
			info.MaxValue = &maxV.Float64
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return infos, nil
}

// RemoveAttribute deletes the attribute stored under name. Removing a
// missing attribute is not an error.
func (mf *MapFile) RemoveAttribute(name string) error {
	if _, err := mf.db.Exec(`DELETE FROM dense_attributes WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete attribute %q: %w", name, err)
	}
	return nil
}
