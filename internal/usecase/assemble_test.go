package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/nexgddp-api/internal/adapter/store/zarr/zarrtest"
	"go.ngs.io/nexgddp-api/internal/dataset"
	"go.ngs.io/nexgddp-api/internal/domain"
	"go.ngs.io/nexgddp-api/internal/observability"
)

type failingOpener struct {
	calls []string
}

func (f *failingOpener) OpenMember(_ context.Context, location string) (*dataset.Dataset, error) {
	f.calls = append(f.calls, location)
	return nil, errors.New("access denied")
}

// memOpener serves in-memory datasets by location.
type memOpener map[string]*dataset.Dataset

func (m memOpener) OpenMember(_ context.Context, location string) (*dataset.Dataset, error) {
	ds, ok := m[location]
	if !ok {
		return nil, errors.New("no such store")
	}
	return ds, nil
}

func TestDatasetAssembler_Groups(t *testing.T) {
	a := newArchive(t).assembler()

	groups, err := a.Groups([]string{"tas", "pr", "tas"}, []string{"historical", "projection"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		archiveRoot + "/historical/tas.zarr",
		archiveRoot + "/projection/tas.zarr",
		archiveRoot + "/historical/pr.zarr",
		archiveRoot + "/projection/pr.zarr",
	}, groups)

	_, err = a.Groups(nil, []string{"historical"})
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
}

func TestDatasetAssembler_GetDataset(t *testing.T) {
	arc := newArchive(t)
	ds, err := arc.assembler().GetDataset(context.Background(), []string{"tas"}, []string{"historical", "projection"})
	require.NoError(t, err)

	assert.Equal(t, []string{"scenario", "lat", "lon", "model", "time"}, ds.Dims())
	assert.Equal(t, []string{"tas"}, ds.VariableNames())
	crs, _ := ds.Attrs.String("crs")
	assert.Equal(t, domain.CRS, crs)

	scenario, _ := ds.Coord(domain.DimScenario)
	assert.Equal(t, []string{"historical", "ssp245", "ssp585"}, scenario.Labels)
	model, _ := ds.Coord(domain.DimModel)
	assert.Equal(t, []string{"ACCESS-CM2", "MIROC6"}, model.Labels)
	lon, _ := ds.Coord(domain.DimLon)
	assert.Equal(t, []float64{-179.875, -89.875, 0.125, 90.125}, lon.Values)

	tas, _ := ds.Variable("tas")
	assert.Equal(t, []string{"scenario", "time", "lat", "lon", "model"}, tas.Dims)
	assert.Equal(t, []int{3, 3, 2, 4, 2}, tas.Shape())

	got, err := tas.Read(context.Background(), [][]int{{0, 1, 2}, {1}, {0}, {2}, {0, 1}})
	require.NoError(t, err)
	// (scenario, model) in row-major order; lon index 2 is the unrolled lon 0.
	want := []float64{
		cellValue(200, 0, 0, 1, 0, 0), math.NaN(), // historical: MIROC6 was duplicated
		cellValue(300, 0, 0, 1, 0, 0), cellValue(300, 0, 1, 1, 0, 0),
		cellValue(300, 1, 0, 1, 0, 0), cellValue(300, 1, 1, 1, 0, 0),
	}
	require.Len(t, got, len(want))
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]), "cell %d", i)
			continue
		}
		assert.Equal(t, want[i], got[i], "cell %d", i)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(arc.metrics.StoreOpens.WithLabelValues("success")))
	assert.Equal(t, 1, testutil.CollectAndCount(arc.metrics.AssembleDuration))
}

func TestDatasetAssembler_GetDataset_OuterJoinAcrossVariables(t *testing.T) {
	a := newArchive(t).assembler()
	ds, err := a.GetDataset(context.Background(), []string{"tas", "pr"}, []string{"historical"})
	require.NoError(t, err)

	assert.Equal(t, []string{"pr", "tas"}, ds.VariableNames())
	model, _ := ds.Coord(domain.DimModel)
	assert.Equal(t, []string{"ACCESS-CM2", "MIROC6"}, model.Labels)

	at := func(name string, m int) float64 {
		v, _ := ds.Variable(name)
		vals, err := v.Read(context.Background(), [][]int{{0}, {0}, {0}, {2}, {m}})
		require.NoError(t, err)
		return vals[0]
	}
	assert.Equal(t, cellValue(200, 0, 0, 0, 0, 0), at("tas", 0))
	assert.True(t, math.IsNaN(at("tas", 1)))
	assert.True(t, math.IsNaN(at("pr", 0)))
	assert.Equal(t, cellValue(0, 0, 0, 0, 0, 0), at("pr", 1))
}

func TestDatasetAssembler_GetDataset_StoreMissing(t *testing.T) {
	arc := newArchive(t)
	_, err := arc.assembler().GetDataset(context.Background(), []string{"pr"}, []string{"projection"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreOpen)

	var openErr *domain.StoreOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, archiveRoot+"/projection/pr.zarr", openErr.Location)
	assert.Equal(t, 1.0, testutil.ToFloat64(arc.metrics.StoreOpens.WithLabelValues("error")))
}

func TestDatasetAssembler_GetDataset_OpenerError(t *testing.T) {
	opener := &failingOpener{}
	a := NewDatasetAssembler(domain.NewResolver(archiveRoot), opener, discardLogger(), observability.NewMetricsForTesting())

	_, err := a.GetDataset(context.Background(), []string{"tas", "pr"}, []string{"historical"})
	assert.ErrorIs(t, err, domain.ErrStoreOpen)
	assert.ErrorContains(t, err, "access denied")
	assert.Equal(t, []string{archiveRoot + "/historical/tas.zarr"}, opener.calls, "assembly stops at the first failure")
}

func TestDatasetAssembler_GetDataset_DifferentTimeEpochs(t *testing.T) {
	arc := newArchiveWith(t, map[string]zarrtest.Store{
		"nex-gddp/historical/tas.zarr": withTimeAttrs(memberStore("tas", 200, nil, []string{"ACCESS-CM2"}),
			map[string]any{"units": "days since 1950-01-01", "calendar": "standard"}),
		"nex-gddp/projection/tas.zarr": memberStore("tas", 300, []string{"ssp245"}, []string{"ACCESS-CM2"}),
	})
	ds, err := arc.assembler().GetDataset(context.Background(), []string{"tas"}, []string{"historical", "projection"})
	require.NoError(t, err)

	c, ok := ds.Coord(domain.DimTime)
	require.True(t, ok)
	assert.Equal(t, "days since 1950-01-01", c.Attrs["units"])
	times, err := dataset.DecodeTime(c)
	require.NoError(t, err)
	require.Len(t, times, 6)
	assert.Equal(t, time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), times[0])
	assert.Equal(t, time.Date(1950, 1, 3, 0, 0, 0, 0, time.UTC), times[2])
	assert.Equal(t, time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), times[3])
	assert.Equal(t, time.Date(2015, 1, 3, 0, 0, 0, 0, time.UTC), times[5])

	// scenario [historical, ssp245] x time [1950-01-01, 2015-01-01] at lon 0.125.
	tas, _ := ds.Variable("tas")
	vals, err := tas.Read(context.Background(), [][]int{{0, 1}, {0, 3}, {0}, {2}, {0}})
	require.NoError(t, err)
	assert.Equal(t, cellValue(200, 0, 0, 0, 0, 0), vals[0])
	assert.True(t, math.IsNaN(vals[1]))
	assert.True(t, math.IsNaN(vals[2]))
	assert.Equal(t, cellValue(300, 0, 0, 0, 0, 0), vals[3])
}

func TestDatasetAssembler_GetDataset_MalformedStores(t *testing.T) {
	tests := []struct {
		name     string
		histAttr map[string]any
		want     string
	}{
		{"calendar mismatch", map[string]any{"units": "days since 1950-01-01", "calendar": "noleap"}, "calendar"},
		{"undecodable units", map[string]any{"units": "days after 1950-01-01"}, "decode time"},
		{"unsupported calendar", map[string]any{"units": "days since 1950-01-01", "calendar": "360_day"}, "unsupported calendar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arc := newArchiveWith(t, map[string]zarrtest.Store{
				"nex-gddp/projection/tas.zarr": memberStore("tas", 300, []string{"ssp245"}, []string{"ACCESS-CM2"}),
				"nex-gddp/historical/tas.zarr": withTimeAttrs(memberStore("tas", 200, nil, []string{"ACCESS-CM2"}), tt.histAttr),
			})
			_, err := arc.assembler().GetDataset(context.Background(), []string{"tas"}, []string{"projection", "historical"})
			require.ErrorIs(t, err, domain.ErrStoreOpen)
			assert.ErrorContains(t, err, tt.want)

			var openErr *domain.StoreOpenError
			require.ErrorAs(t, err, &openErr)
			assert.Equal(t, archiveRoot+"/historical/tas.zarr", openErr.Location)
		})
	}
}

func TestDatasetAssembler_GetDataset_MergeMismatch(t *testing.T) {
	lats, lons := []float64{0, 1}, []float64{10, 11, 12}
	hist := gridDataset(t, lats, lons)

	// Same variable stored (lat, time, lon).
	values := make([]float64, 0, 12)
	for y := range lats {
		for ti := 0; ti < 2; ti++ {
			for x := range lons {
				values = append(values, float64(100*ti+10*y+x))
			}
		}
	}
	src, err := dataset.NewMemSource([]int{len(lats), 2, len(lons)}, values)
	require.NoError(t, err)
	v, err := dataset.NewVariable("tas", []string{"lat", "time", "lon"}, src, nil)
	require.NoError(t, err)
	proj := dataset.New()
	require.NoError(t, proj.AddCoord(dataset.NumericCoord("time", []float64{0, 1}, dataset.Attrs{"units": "days since 2000-01-01"})))
	require.NoError(t, proj.AddCoord(dataset.NumericCoord("lat", lats, nil)))
	require.NoError(t, proj.AddCoord(dataset.NumericCoord("lon", lons, nil)))
	require.NoError(t, proj.AddVariable(v))

	opener := memOpener{
		archiveRoot + "/historical/tas.zarr": hist,
		archiveRoot + "/projection/tas.zarr": proj,
	}
	a := NewDatasetAssembler(domain.NewResolver(archiveRoot), opener, discardLogger(), observability.NewMetricsForTesting())
	_, err = a.GetDataset(context.Background(), []string{"tas"}, []string{"historical", "projection"})
	require.ErrorIs(t, err, domain.ErrStoreOpen)

	var openErr *domain.StoreOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, archiveRoot+"/projection/tas.zarr", openErr.Location)
	assert.ErrorContains(t, err, "merge")
}

func TestDatasetAssembler_GetDataset_Validation(t *testing.T) {
	opener := &failingOpener{}
	a := NewDatasetAssembler(domain.NewResolver(archiveRoot), opener, discardLogger(), observability.NewMetricsForTesting())

	tests := []struct {
		name      string
		variables []string
		scenarios []string
		want      error
	}{
		{"no variables", nil, []string{"historical"}, domain.ErrEmptyInput},
		{"no scenarios", []string{"tas"}, []string{}, domain.ErrEmptyInput},
		{"unknown variable", []string{"tas", "snow"}, []string{"historical"}, domain.ErrUnknownVariable},
		{"unknown scenario", []string{"tas"}, []string{"ssp245"}, domain.ErrUnknownScenario},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.GetDataset(context.Background(), tt.variables, tt.scenarios)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, opener.calls, "validation performs no I/O")
}
