package usecase

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"go.ngs.io/nexgddp-api/internal/adapter/store/zarr"
	"go.ngs.io/nexgddp-api/internal/adapter/store/zarr/zarrtest"
	"go.ngs.io/nexgddp-api/internal/dataset"
	"go.ngs.io/nexgddp-api/internal/domain"
	"go.ngs.io/nexgddp-api/internal/observability"
)

const archiveRoot = "mem://archive/nex-gddp"

var (
	fixtureLats = []float64{-0.125, 0.125}
	fixtureLons = []float64{0.125, 90.125, 180.125, 270.125}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// cellValue encodes a fixture cell position as
// base + 10000*scenario + 1000*model + 100*time + 10*lat + lon.
func cellValue(base float64, s, m, t, y, x int) float64 {
	return base + float64(s*10000+m*1000+t*100+y*10+x)
}

// memberStore builds a store with dims (scenario, time, lat, lon, model),
// or (time, lat, lon, model) when scenarios is nil.
func memberStore(variable string, base float64, scenarios, models []string) zarrtest.Store {
	nt, ny, nx, nm := 3, len(fixtureLats), len(fixtureLons), len(models)
	ns := max(1, len(scenarios))
	var values []float64
	for s := 0; s < ns; s++ {
		for t := 0; t < nt; t++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					for m := 0; m < nm; m++ {
						values = append(values, cellValue(base, s, m, t, y, x))
					}
				}
			}
		}
	}

	dims := []string{"time", "lat", "lon", "model"}
	shape := []int{nt, ny, nx, nm}
	chunks := []int{2, 1, 2, 1}
	arrays := []zarrtest.Array{
		{
			Name: "time", Dims: []string{"time"}, Shape: []int{nt}, Chunks: []int{nt},
			DType: "<i8", Values: []float64{0, 1, 2},
			Attrs: map[string]any{"units": "days since 2015-01-01", "calendar": "standard"},
		},
		{
			Name: "lat", Dims: []string{"lat"}, Shape: []int{ny}, Chunks: []int{ny},
			DType: "<f8", FillValue: "NaN", Values: fixtureLats,
		},
		{
			Name: "lon", Dims: []string{"lon"}, Shape: []int{nx}, Chunks: []int{nx},
			DType: "<f8", FillValue: "NaN", Values: fixtureLons,
			Attrs: map[string]any{"units": "degrees_east"},
		},
		{
			Name: "model", Dims: []string{"model"}, Shape: []int{nm}, Chunks: []int{nm},
			DType: "<U16", Strings: models,
		},
	}
	if scenarios != nil {
		dims = append([]string{"scenario"}, dims...)
		shape = append([]int{ns}, shape...)
		chunks = append([]int{1}, chunks...)
		arrays = append(arrays, zarrtest.Array{
			Name: "scenario", Dims: []string{"scenario"}, Shape: []int{ns}, Chunks: []int{ns},
			DType: "<U10", Strings: scenarios,
		})
	}
	arrays = append(arrays, zarrtest.Array{
		Name: variable, Dims: dims, Shape: shape, Chunks: chunks,
		DType: "<f4", FillValue: "NaN", Values: values,
		Compressor: map[string]any{"id": "blosc", "cname": "zstd", "clevel": 3, "shuffle": 1},
		Attrs:      map[string]any{"units": "K"},
	})
	return zarrtest.Store{Consolidated: true, Attrs: map[string]any{"title": variable}, Arrays: arrays}
}

// withTimeAttrs replaces the attributes of a member store's time array.
func withTimeAttrs(s zarrtest.Store, attrs map[string]any) zarrtest.Store {
	for i := range s.Arrays {
		if s.Arrays[i].Name == "time" {
			s.Arrays[i].Attrs = attrs
		}
	}
	return s
}

// archive is an in-memory bucket laid out like the time-optimized archive:
// historical stores without a scenario dimension (MIROC6 listed twice in
// tas), projection stores with one.
type archive struct {
	bucket  *blob.Bucket
	opener  *zarr.Opener
	metrics *observability.Metrics
}

func newArchive(t *testing.T) *archive {
	t.Helper()
	return newArchiveWith(t, map[string]zarrtest.Store{
		"nex-gddp/historical/tas.zarr": memberStore("tas", 200, nil, []string{"ACCESS-CM2", "MIROC6", "MIROC6"}),
		"nex-gddp/projection/tas.zarr": memberStore("tas", 300, []string{"ssp245", "ssp585"}, []string{"ACCESS-CM2", "MIROC6"}),
		"nex-gddp/historical/pr.zarr":  memberStore("pr", 0, nil, []string{"MIROC6"}),
	})
}

// newArchiveWith writes stores, keyed by bucket prefix, to an in-memory archive.
func newArchiveWith(t *testing.T, stores map[string]zarrtest.Store) *archive {
	t.Helper()
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = bucket.Close() })

	for prefix, s := range stores {
		require.NoError(t, zarrtest.Write(ctx, bucket, prefix, s))
	}

	metrics := observability.NewMetricsForTesting()
	opener := zarr.NewOpener(zarr.Config{OpenBucket: func(context.Context, string) (*blob.Bucket, error) {
		return bucket, nil
	}}, metrics, discardLogger())
	return &archive{bucket: bucket, opener: opener, metrics: metrics}
}

func (a *archive) assembler() *DatasetAssembler {
	return NewDatasetAssembler(domain.NewResolver(archiveRoot), a.opener, discardLogger(), a.metrics)
}

// gridDataset builds an in-memory (time, lat, lon) dataset over the given
// axes with value 100*t + 10*y + x.
func gridDataset(t *testing.T, lats, lons []float64) *dataset.Dataset {
	t.Helper()
	nt := 2
	values := make([]float64, 0, nt*len(lats)*len(lons))
	for ti := 0; ti < nt; ti++ {
		for y := range lats {
			for x := range lons {
				values = append(values, float64(100*ti+10*y+x))
			}
		}
	}
	src, err := dataset.NewMemSource([]int{nt, len(lats), len(lons)}, values)
	require.NoError(t, err)
	v, err := dataset.NewVariable("tas", []string{"time", "lat", "lon"}, src, dataset.Attrs{"units": "K"})
	require.NoError(t, err)

	ds := dataset.New()
	require.NoError(t, ds.AddCoord(dataset.NumericCoord("time", []float64{0, 1}, dataset.Attrs{"units": "days since 2000-01-01"})))
	require.NoError(t, ds.AddCoord(dataset.NumericCoord("lat", lats, nil)))
	require.NoError(t, ds.AddCoord(dataset.NumericCoord("lon", lons, nil)))
	require.NoError(t, ds.AddVariable(v))
	return ds
}

func readCells(t *testing.T, ds *dataset.Dataset, name string) []float64 {
	t.Helper()
	v, ok := ds.Variable(name)
	require.True(t, ok, "variable %s", name)
	vals, err := v.ReadAll(context.Background())
	require.NoError(t, err)
	return vals
}
