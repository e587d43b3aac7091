package importer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeShapefile writes points with NAME and CITY attributes under dir.
func writeShapefile(t *testing.T, dir string, points []shp.Point, attrs [][2]string) string {
	t.Helper()
	path := filepath.Join(dir, "businesses.shp")
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("NAME", 40),
		shp.StringField("CITY", 20),
	}))
	for i := range points {
		n := w.Write(&points[i])
		require.NoError(t, w.WriteAttribute(int(n), 0, attrs[i][0]))
		require.NoError(t, w.WriteAttribute(int(n), 1, attrs[i][1]))
	}
	w.Close()

	// Some go-shp releases drop the dot before the dbf extension.
	base := filepath.Join(dir, "businesses")
	if _, err := os.Stat(base + ".dbf"); os.IsNotExist(err) {
		require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	}
	return path
}

func TestReadShapefile_Points(t *testing.T) {
	path := writeShapefile(t, t.TempDir(),
		[]shp.Point{{X: -80.19, Y: 25.77}, {X: -82.46, Y: 27.95}},
		[][2]string{{"Acme Plumbing", "Miami"}, {"Bay HVAC", ""}},
	)

	recs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "Acme Plumbing", recs[0]["name"])
	assert.Equal(t, "Miami", recs[0]["city"])
	assert.InDelta(t, -80.19, recs[0]["longitude"], 1e-9)
	assert.InDelta(t, 25.77, recs[0]["latitude"], 1e-9)

	assert.Equal(t, "Bay HVAC", recs[1]["name"])
	_, hasCity := recs[1]["city"]
	assert.False(t, hasCity, "blank attributes are dropped")
}

func TestReadShapefile_Missing(t *testing.T) {
	_, err := ReadShapefile(filepath.Join(t.TempDir(), "nope.shp"))
	assert.Error(t, err)
}

func TestShapeCenter(t *testing.T) {
	lon, lat, ok := shapeCenter(&shp.Point{X: 1, Y: 2})
	require.True(t, ok)
	assert.Equal(t, 1.0, lon)
	assert.Equal(t, 2.0, lat)

	poly := &shp.Polygon{
		Box:       shp.Box{MinX: 0, MinY: 0, MaxX: 4, MaxY: 2},
		NumParts:  1,
		NumPoints: 4,
		Parts:     []int32{0},
		Points:    []shp.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 2}, {X: 0, Y: 0}},
	}
	lon, lat, ok = shapeCenter(poly)
	require.True(t, ok)
	assert.Equal(t, 2.0, lon)
	assert.Equal(t, 1.0, lat)

	_, _, ok = shapeCenter(nil)
	assert.False(t, ok)
	_, _, ok = shapeCenter(&shp.Null{})
	assert.False(t, ok)
}
