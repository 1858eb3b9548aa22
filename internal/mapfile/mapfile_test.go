package mapfile

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/meshlayers/internal/mesh"
	"github.com/banshee-data/meshlayers/internal/monitoring"
	"github.com/banshee-data/meshlayers/internal/timeutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func openTestMapFile(t *testing.T) *MapFile {
	t.Helper()
	mf, err := Open(filepath.Join(t.TempDir(), "map.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mf.Close() })
	return mf
}

func testMesh(t *testing.T) *mesh.Mesh {
	t.Helper()
	m, err := mesh.NewHeightfield(4, 3, 0.5, func(i, j int) float32 { return float32(i*j) * 0.1 })
	require.NoError(t, err)
	return m
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

func TestOpen_MigratesToLatest(t *testing.T) {
	t.Parallel()
	mf := openTestMapFile(t)

	version, dirty, err := mf.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "map.db")

	mf, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, mf.AddDenseAttributeMap(mesh.DenseVertexMapFromValues([]float32{1, 2}), "height_diff"))
	require.NoError(t, mf.Close())

	mf, err = Open(path)
	require.NoError(t, err)
	defer mf.Close()
	assert.Equal(t, path, mf.Path())

	got, err := mf.GetDenseAttributeMap("height_diff")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []float32{1, 2}, got.Values())
}

// ---------------------------------------------------------------------------
// Dense attributes
// ---------------------------------------------------------------------------

func TestDenseAttribute_RoundTrip(t *testing.T) {
	t.Parallel()
	mf := openTestMapFile(t)

	want := mesh.DenseVertexMapFromValues([]float32{0, 0.25, 1.5, 3})
	require.NoError(t, mf.AddDenseAttributeMap(want, "height_diff"))

	got, err := mf.GetDenseAttributeMap("height_diff")
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(want.Values(), got.Values()); diff != "" {
		t.Errorf("attribute mismatch (-want +got):\n%s", diff)
	}
}

func TestDenseAttribute_Missing(t *testing.T) {
	t.Parallel()
	mf := openTestMapFile(t)

	got, err := mf.GetDenseAttributeMap("height_diff")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestDenseAttribute_EmptyMap(t *testing.T) {
	t.Parallel()
	mf := openTestMapFile(t)

	require.NoError(t, mf.AddDenseAttributeMap(mesh.NewDenseVertexMap[float32](0, 0), "empty"))
	got, err := mf.GetDenseAttributeMap("empty")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0, got.Len())

	infos, err := mf.ListAttributes()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Nil(t, infos[0].MinValue)
	assert.Nil(t, infos[0].MaxValue)
}

func TestDenseAttribute_OverwriteAndList(t *testing.T) {
	t.Parallel()
	mf := openTestMapFile(t)
	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	mf.SetClock(clock)

	require.NoError(t, mf.AddDenseAttributeMap(mesh.DenseVertexMapFromValues([]float32{1, 2, 3}), "height_diff"))
	require.NoError(t, mf.AddDenseAttributeMap(mesh.DenseVertexMapFromValues([]float32{5}), "roughness"))

	first, err := mf.ListAttributes()
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "height_diff", first[0].Name)
	assert.Equal(t, "roughness", first[1].Name)

	clock.Advance(time.Minute)
	require.NoError(t, mf.AddDenseAttributeMap(mesh.DenseVertexMapFromValues([]float32{0.5, 4}), "height_diff"))

	second, err := mf.ListAttributes()
	require.NoError(t, err)
	require.Len(t, second, 2)
	hd := second[0]
	assert.Equal(t, 2, hd.VertexCount)
	assert.NotEqual(t, first[0].Revision, hd.Revision)
	assert.Equal(t, clock.Now().UnixNano(), hd.UpdatedUnixNanos)
	require.NotNil(t, hd.MinValue)
	require.NotNil(t, hd.MaxValue)
	assert.InDelta(t, 0.5, *hd.MinValue, 1e-6)
	assert.InDelta(t, 4.0, *hd.MaxValue, 1e-6)

	got, err := mf.GetDenseAttributeMap("height_diff")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 4}, got.Values())
}

func TestDenseAttribute_Remove(t *testing.T) {
	t.Parallel()
	mf := openTestMapFile(t)

	require.NoError(t, mf.AddDenseAttributeMap(mesh.DenseVertexMapFromValues([]float32{1}), "height_diff"))
	require.NoError(t, mf.RemoveAttribute("height_diff"))
	require.NoError(t, mf.RemoveAttribute("height_diff"))

	got, err := mf.GetDenseAttributeMap("height_diff")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestDenseAttribute_InvalidInput(t *testing.T) {
	t.Parallel()
	mf := openTestMapFile(t)

	assert.Error(t, mf.AddDenseAttributeMap(nil, "height_diff"))
	assert.Error(t, mf.AddDenseAttributeMap(mesh.NewDenseVertexMap[float32](1, 0), ""))
}

func TestDenseAttribute_CorruptBlob(t *testing.T) {
	t.Parallel()
	mf := openTestMapFile(t)

	_, err := mf.DB().Exec(`INSERT INTO dense_attributes (name, vertex_count, revision, values_blob, updated_unix_nanos)
		VALUES ('height_diff', 3, 'r1', x'00010203', 0)`)
	require.NoError(t, err)

	got, err := mf.GetDenseAttributeMap("height_diff")
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestDenseAttribute_VertexCountMismatch(t *testing.T) {
	t.Parallel()
	mf := openTestMapFile(t)

	require.NoError(t, mf.AddDenseAttributeMap(mesh.DenseVertexMapFromValues([]float32{1, 2}), "height_diff"))
	_, err := mf.DB().Exec(`UPDATE dense_attributes SET vertex_count = 5 WHERE name = 'height_diff'`)
	require.NoError(t, err)

	_, err = mf.GetDenseAttributeMap("height_diff")
	assert.ErrorContains(t, err, "corrupt")
}

// ---------------------------------------------------------------------------
// Mesh geometry
// ---------------------------------------------------------------------------

func TestMesh_SaveLoad(t *testing.T) {
	t.Parallel()
	mf := openTestMapFile(t)

	none, err := mf.LoadMesh()
	require.NoError(t, err)
	assert.Nil(t, none)

	want := testMesh(t)
	require.NoError(t, mf.SaveMesh(want))

	got, err := mf.LoadMesh()
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(want.Data(), got.Data()); diff != "" {
		t.Errorf("mesh mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, want.Neighbors(5), got.Neighbors(5))

	// A second save replaces the single mesh row.
	require.NoError(t, mf.SaveMesh(want))
	var rows int
	require.NoError(t, mf.DB().QueryRow(`SELECT COUNT(*) FROM mesh_geometry`).Scan(&rows))
	assert.Equal(t, 1, rows)

	assert.Error(t, mf.SaveMesh(nil))
}

// ---------------------------------------------------------------------------
// Admin routes
// ---------------------------------------------------------------------------

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()
	mf := openTestMapFile(t)
	mux := http.NewServeMux()
	assert.NoError(t, mf.AttachAdminRoutes(mux))
}

func TestHandleBackup(t *testing.T) {
	t.Parallel()
	mf := openTestMapFile(t)
	require.NoError(t, mf.AddDenseAttributeMap(mesh.DenseVertexMapFromValues([]float32{1}), "height_diff"))

	rec := httptest.NewRecorder()
	mf.handleBackup(rec, httptest.NewRequest(http.MethodGet, "/debug/mapfile-backup", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "mapfile-backup-")
	assert.NotZero(t, rec.Body.Len())
}
