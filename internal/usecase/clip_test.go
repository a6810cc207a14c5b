package usecase

import (
	"math"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/nexgddp-api/internal/adapter/geometry"
	"go.ngs.io/nexgddp-api/internal/dataset"
	"go.ngs.io/nexgddp-api/internal/domain"
)

var (
	clipLats = []float64{0, 1, 2, 3}
	clipLons = []float64{10, 11, 12, 13}
)

func rect(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}}
}

func assertCells(t *testing.T, want, got []float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]), "cell %d = %v, want NaN", i, got[i])
			continue
		}
		assert.Equal(t, want[i], got[i], "cell %d", i)
	}
}

func TestSelectRegion_FullContainment(t *testing.T) {
	ds := gridDataset(t, clipLats, clipLons)
	out, err := SelectRegion(ds, geometry.NewRegion("EPSG:4326", rect(9.5, -0.5, 13.5, 3.5)))
	require.NoError(t, err)

	assert.Equal(t, readCells(t, ds, "tas"), readCells(t, out, "tas"))
	x, y, ok := out.SpatialDims()
	assert.True(t, ok)
	assert.Equal(t, domain.DimLon, x)
	assert.Equal(t, domain.DimLat, y)
	crs, _ := out.Attrs.String("crs")
	assert.Equal(t, domain.CRS, crs)
}

func TestSelectRegion_CropAndMask(t *testing.T) {
	ds := gridDataset(t, clipLats, clipLons)
	triangle := geom.Polygon{{{X: 10.5, Y: 0.5}, {X: 12.7, Y: 0.5}, {X: 10.5, Y: 2.7}, {X: 10.5, Y: 0.5}}}

	out, err := SelectRegion(ds, geometry.NewRegion("EPSG:4326", triangle))
	require.NoError(t, err)

	lat, _ := out.Coord(domain.DimLat)
	lon, _ := out.Coord(domain.DimLon)
	assert.Equal(t, []float64{1, 2}, lat.Values)
	assert.Equal(t, []float64{11, 12}, lon.Values)
	assertCells(t, []float64{
		11, 12, 21, math.NaN(),
		111, 112, 121, math.NaN(),
	}, readCells(t, out, "tas"))

	// Time is untouched and so is the input.
	n, _ := out.Size(domain.DimTime)
	assert.Equal(t, 2, n)
	n, _ = ds.Size(domain.DimLat)
	assert.Equal(t, 4, n)
	_, _, ok := ds.SpatialDims()
	assert.False(t, ok)
}

func TestSelectRegion_MultiPolygon(t *testing.T) {
	ds := gridDataset(t, clipLats, clipLons)
	region := geometry.NewRegion("EPSG:4326", geom.MultiPolygon{
		rect(9.5, -0.5, 10.5, 0.5),
		rect(12.5, 2.5, 13.5, 3.5),
	})

	out, err := SelectRegion(ds, region)
	require.NoError(t, err)

	lat, _ := out.Coord(domain.DimLat)
	lon, _ := out.Coord(domain.DimLon)
	assert.Equal(t, clipLats, lat.Values)
	assert.Equal(t, clipLons, lon.Values)

	got := readCells(t, out, "tas")
	assert.Equal(t, 0.0, got[0])
	assert.Equal(t, 33.0, got[15])
	for i := 1; i < 15; i++ {
		assert.True(t, math.IsNaN(got[i]), "cell %d", i)
	}
}

func TestSelectRegion_Reprojected(t *testing.T) {
	ds := gridDataset(t, clipLats, clipLons)
	// lon 10.5..12.5, lat 0.5..2.5 in Web Mercator metres.
	mercator := rect(1168854.6533293726, 55660.45186542052, 1391493.6349159195, 278387.0759542342)

	out, err := SelectRegion(ds, geometry.NewRegion("EPSG:3857", mercator))
	require.NoError(t, err)

	lat, _ := out.Coord(domain.DimLat)
	lon, _ := out.Coord(domain.DimLon)
	assert.Equal(t, []float64{1, 2}, lat.Values)
	assert.Equal(t, []float64{11, 12}, lon.Values)
	assertCells(t, []float64{11, 12, 21, 22, 111, 112, 121, 122}, readCells(t, out, "tas"))
}

func TestSelectRegion_NoOverlap(t *testing.T) {
	ds := gridDataset(t, clipLats, clipLons)
	_, err := SelectRegion(ds, geometry.NewRegion("EPSG:4326", rect(50, 50, 60, 60)))
	assert.ErrorIs(t, err, domain.ErrNoOverlap)

	var noOverlap *domain.NoOverlapError
	require.ErrorAs(t, err, &noOverlap)
	assert.Equal(t, [4]float64{50, 50, 60, 60}, noOverlap.Bounds)
}

func TestSelectRegion_InvalidGeometry(t *testing.T) {
	ds := gridDataset(t, clipLats, clipLons)
	_, err := SelectRegion(ds, geometry.NewRegion("EPSG:4326"))
	assert.ErrorIs(t, err, domain.ErrInvalidGeometry)

	_, err = SelectRegion(ds, geometry.NewRegion("EPSG:4326", geom.Polygon{{{X: 0, Y: 0}, {X: 1, Y: 1}}}))
	assert.ErrorIs(t, err, domain.ErrInvalidGeometry)
}

func TestSelectRegion_MissingSpatialDims(t *testing.T) {
	src, err := dataset.NewMemSource([]int{2}, []float64{1, 2})
	require.NoError(t, err)
	v, err := dataset.NewVariable("tas", []string{"time"}, src, nil)
	require.NoError(t, err)
	ds := dataset.New()
	require.NoError(t, ds.AddVariable(v))

	_, err = SelectRegion(ds, geometry.NewRegion("EPSG:4326", rect(9.5, -0.5, 13.5, 3.5)))
	assert.ErrorContains(t, err, "spatial dimension")
}
