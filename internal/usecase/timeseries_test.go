package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/nexgddp-api/internal/dataset"
	"go.ngs.io/nexgddp-api/internal/domain"
)

func assembledTas(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := newArchive(t).assembler().GetDataset(context.Background(), []string{"tas"}, []string{"historical", "projection"})
	require.NoError(t, err)
	return ds
}

func seriesValues(resp *SeriesResponse) []any {
	out := make([]any, len(resp.Points))
	for i, p := range resp.Points {
		if p.Value != nil {
			out[i] = *p.Value
		}
	}
	return out
}

func TestSeriesRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     SeriesRequest
		wantErr error
	}{
		{"valid", SeriesRequest{Variable: "tas", Scenario: "ssp245", Lat: 10, Lon: 200}, nil},
		{"missing variable", SeriesRequest{Scenario: "ssp245"}, domain.ErrInvalidRequest},
		{"unknown variable", SeriesRequest{Variable: "snow", Scenario: "ssp245"}, domain.ErrUnknownVariable},
		{"missing scenario", SeriesRequest{Variable: "tas"}, domain.ErrInvalidRequest},
		{"latitude", SeriesRequest{Variable: "tas", Scenario: "ssp245", Lat: 91}, domain.ErrInvalidRequest},
		{"method", SeriesRequest{Variable: "tas", Scenario: "ssp245", Method: "cubic"}, domain.ErrInvalidRequest},
		{"time range", SeriesRequest{
			Variable: "tas", Scenario: "ssp245",
			Start: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		}, domain.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, MethodNearest, tt.req.Method)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExtractSeries_Nearest(t *testing.T) {
	ds := assembledTas(t)

	resp, err := ExtractSeries(context.Background(), ds, SeriesRequest{
		Variable: "tas",
		Scenario: "ssp585",
		Model:    "MIROC6",
		Lat:      0.1,
		Lon:      360.2,
	})
	require.NoError(t, err)

	assert.Equal(t, MethodNearest, resp.Method)
	assert.InDelta(t, 0.2, resp.Lon, 1e-9)
	assert.Equal(t, []float64{0.125}, resp.GridLat)
	assert.Equal(t, []float64{0.125}, resp.GridLon)
	assert.Equal(t, "K", resp.Units)
	require.Len(t, resp.Points, 3)
	assert.Equal(t, "2015-01-01T00:00:00Z", resp.Points[0].Time)
	assert.Equal(t, "2015-01-03T00:00:00Z", resp.Points[2].Time)
	assert.Equal(t, []any{
		cellValue(300, 1, 1, 0, 1, 0),
		cellValue(300, 1, 1, 1, 1, 0),
		cellValue(300, 1, 1, 2, 1, 0),
	}, seriesValues(resp))
}

func TestExtractSeries_MissingData(t *testing.T) {
	ds := assembledTas(t)

	resp, err := ExtractSeries(context.Background(), ds, SeriesRequest{
		Variable: "tas", Scenario: "historical", Model: "MIROC6", Lat: 0, Lon: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil, nil}, seriesValues(resp))
}

func TestExtractSeries_TimeWindow(t *testing.T) {
	ds := assembledTas(t)

	resp, err := ExtractSeries(context.Background(), ds, SeriesRequest{
		Variable: "tas", Scenario: "ssp245", Model: "ACCESS-CM2", Lat: -0.125, Lon: 90.125,
		Start: time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, resp.Points, 2)
	assert.Equal(t, "2015-01-02T00:00:00Z", resp.Points[0].Time)
	assert.Equal(t, []any{cellValue(300, 0, 0, 1, 0, 1), cellValue(300, 0, 0, 2, 0, 1)}, seriesValues(resp))
}

func TestExtractSeries_Bilinear(t *testing.T) {
	ds := gridDataset(t, []float64{0, 1, 2, 3}, []float64{10, 11, 12, 13})

	resp, err := ExtractSeries(context.Background(), ds, SeriesRequest{
		Variable: "tas", Scenario: "historical", Lat: 1.5, Lon: 11.25, Method: MethodBilinear,
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, resp.GridLat)
	assert.Equal(t, []float64{11, 12}, resp.GridLon)
	require.Len(t, resp.Points, 2)
	assert.InDelta(t, 16.25, *resp.Points[0].Value, 1e-9)
	assert.InDelta(t, 116.25, *resp.Points[1].Value, 1e-9)
}

func TestExtractSeries_Errors(t *testing.T) {
	ds := assembledTas(t)

	tests := []struct {
		name string
		req  SeriesRequest
		want error
	}{
		{"ambiguous model", SeriesRequest{Variable: "tas", Scenario: "ssp245"}, domain.ErrInvalidRequest},
		{"unknown model", SeriesRequest{Variable: "tas", Scenario: "ssp245", Model: "GFDL-ESM4"}, domain.ErrInvalidRequest},
		{"unknown scenario label", SeriesRequest{Variable: "tas", Scenario: "ssp126", Model: "MIROC6"}, domain.ErrInvalidRequest},
		{"variable not assembled", SeriesRequest{Variable: "pr", Scenario: "ssp245", Model: "MIROC6"}, domain.ErrInvalidRequest},
		{"read limit", SeriesRequest{Variable: "tas", Scenario: "ssp245", Model: "MIROC6", MaxCells: 2}, domain.ErrReadLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractSeries(context.Background(), ds, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSelectTimeRange(t *testing.T) {
	ds := gridDataset(t, []float64{0}, []float64{0})

	same, err := SelectTimeRange(ds, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Same(t, ds, same)

	out, err := SelectTimeRange(ds, time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC), time.Time{})
	require.NoError(t, err)
	c, _ := out.Coord(domain.DimTime)
	assert.Equal(t, []float64{1}, c.Values)
	assert.Equal(t, []float64{100}, readCells(t, out, "tas"))

	_, err = SelectTimeRange(ds, time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC), time.Time{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = SelectTimeRange(ds, time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestParseTimeBound(t *testing.T) {
	got, err := ParseTimeBound("2050-06-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2050, 6, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseTimeBound("2050-06-01T12:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2050, 6, 1, 10, 0, 0, 0, time.UTC), got)

	got, err = ParseTimeBound("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseTimeBound("June 2050")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
