package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.ngs.io/nexgddp-api/internal/adapter/interp"
	"go.ngs.io/nexgddp-api/internal/dataset"
	"go.ngs.io/nexgddp-api/internal/domain"
)

// Interpolation methods for point series.
const (
	MethodNearest  = "nearest"
	MethodBilinear = "bilinear"
)

// SeriesRequest selects one grid point time series.
type SeriesRequest struct {
	Variable string
	Scenario string
	Model    string // Optional when the dataset holds a single model.

	Lat float64
	Lon float64 // Any degree longitude; wrapped into [-180, 180).

	Method string // "nearest" (default) or "bilinear".

	// Optional time window (zero means open).
	Start time.Time
	End   time.Time

	// MaxCells bounds the cells read; zero or less disables the check.
	MaxCells int
}

// SeriesResponse contains the extracted time series.
type SeriesResponse struct {
	Variable string        `json:"variable"`
	Scenario string        `json:"scenario"`
	Model    string        `json:"model"`
	Method   string        `json:"method"`
	Lat      float64       `json:"lat"`
	Lon      float64       `json:"lon"`
	GridLat  []float64     `json:"grid_lat"`
	GridLon  []float64     `json:"grid_lon"`
	Units    string        `json:"units,omitempty"`
	Points   []SeriesPoint `json:"points"`
}

// SeriesPoint represents a single time step. Value is nil for missing data.
type SeriesPoint struct {
	Time  string   `json:"time"`
	Value *float64 `json:"value"`
}

// Validate checks if the request is valid
func (r *SeriesRequest) Validate() error {
	if r.Variable == "" {
		return invalid("variable is required")
	}
	if !domain.IsVariable(r.Variable) {
		return &domain.UnknownVariableError{Names: []string{r.Variable}}
	}
	if r.Scenario == "" {
		return invalid("scenario is required")
	}
	if math.IsNaN(r.Lat) || r.Lat < -90 || r.Lat > 90 {
		return invalid("latitude must be between -90 and 90")
	}
	if math.IsNaN(r.Lon) || math.IsInf(r.Lon, 0) {
		return invalid("longitude must be finite")
	}
	switch r.Method {
	case "":
		r.Method = MethodNearest
	case MethodNearest, MethodBilinear:
	default:
		return invalid("method must be %q or %q", MethodNearest, MethodBilinear)
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return invalid("start time must be before end time")
	}
	return nil
}

// ExtractSeries materializes the time series of one variable at a point of
// an assembled dataset.
func ExtractSeries(ctx context.Context, ds *dataset.Dataset, req SeriesRequest) (*SeriesResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ds, err := SelectTimeRange(ds, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	v, ok := ds.Variable(req.Variable)
	if !ok {
		return nil, invalid("dataset has no variable %s", req.Variable)
	}
	lon := domain.WrapLongitude(req.Lon)

	resp := &SeriesResponse{
		Variable: req.Variable,
		Scenario: req.Scenario,
		Model:    req.Model,
		Method:   req.Method,
		Lat:      req.Lat,
		Lon:      lon,
	}
	resp.Units, _ = v.Attrs.String("units")

	timeAxis, latAxis, lonAxis := v.Axis(domain.DimTime), v.Axis(domain.DimLat), v.Axis(domain.DimLon)
	if latAxis < 0 || lonAxis < 0 {
		return nil, invalid("variable %s is not gridded on %s/%s", req.Variable, domain.DimLat, domain.DimLon)
	}

	// One index list per axis; lat and lon carry one or two nodes.
	index := make([][]int, len(v.Dims))
	var latFrac, lonFrac float64
	for axis, dim := range v.Dims {
		c, _ := ds.Coord(dim)
		n, _ := ds.Size(dim)
		switch dim {
		case domain.DimTime:
			index[axis] = dataset.Arange(0, n)
		case domain.DimScenario:
			if index[axis], err = labelIndex(c, n, dim, req.Scenario); err != nil {
				return nil, err
			}
		case domain.DimModel:
			if index[axis], err = labelIndex(c, n, dim, req.Model); err != nil {
				return nil, err
			}
			if resp.Model == "" && c != nil && c.Categorical() {
				resp.Model = c.Labels[index[axis][0]]
			}
		case domain.DimLat:
			if index[axis], latFrac, err = pointIndex(c, req.Lat, req.Method); err != nil {
				return nil, invalid("lat: %v", err)
			}
			resp.GridLat = takeValues(c, index[axis])
		case domain.DimLon:
			if index[axis], lonFrac, err = pointIndex(c, lon, req.Method); err != nil {
				return nil, invalid("lon: %v", err)
			}
			resp.GridLon = takeValues(c, index[axis])
		default:
			if n != 1 {
				return nil, fmt.Errorf("variable %s has unsupported dimension %s of length %d", req.Variable, dim, n)
			}
			index[axis] = []int{0}
		}
	}

	cells := 1
	for _, list := range index {
		cells *= len(list)
	}
	if req.MaxCells > 0 && cells > req.MaxCells {
		return nil, &domain.ReadLimitError{Cells: cells, Limit: req.MaxCells}
	}
	values, err := v.Read(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", req.Variable, err)
	}

	stamps := timeLabels(ds, timeAxis, index)

	strides := make([]int, len(index))
	s := 1
	for d := len(index) - 1; d >= 0; d-- {
		strides[d] = s
		s *= len(index[d])
	}
	at := func(t, y, x int) float64 {
		off := y*strides[latAxis] + x*strides[lonAxis]
		if timeAxis >= 0 {
			off += t * strides[timeAxis]
		}
		return values[off]
	}

	resp.Points = make([]SeriesPoint, len(stamps))
	ny, nx := len(index[latAxis]), len(index[lonAxis])
	for t := range stamps {
		var val float64
		if ny == 1 && nx == 1 {
			val = at(t, 0, 0)
		} else {
			y1, x1 := min(1, ny-1), min(1, nx-1)
			val = interp.Weighted(lonFrac, latFrac, at(t, 0, 0), at(t, 0, x1), at(t, y1, 0), at(t, y1, x1))
		}
		resp.Points[t] = SeriesPoint{Time: stamps[t]}
		if !math.IsNaN(val) {
			resp.Points[t].Value = &val
		}
	}
	return resp, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// labelIndex resolves label along a categorical dimension. An empty label
// selects the only entry of a length-1 dimension.
func labelIndex(c *dataset.Coord, n int, dim, label string) ([]int, error) {
	if label == "" {
		if n == 1 {
			return []int{0}, nil
		}
		return nil, invalid("%s is required: dataset has %d", dim, n)
	}
	if c == nil {
		return nil, invalid("dataset has no %s coordinate", dim)
	}
	i, ok := c.IndexOf(label)
	if !ok {
		return nil, invalid("%s %q not in dataset", dim, label)
	}
	return []int{i}, nil
}

// pointIndex returns the nearest node of v, or the two nodes bracketing it
// with the fractional offset between them.
func pointIndex(c *dataset.Coord, v float64, method string) ([]int, float64, error) {
	if c == nil || c.Categorical() {
		return nil, 0, fmt.Errorf("no numeric coordinate")
	}
	if method == MethodBilinear && c.Len() >= 2 {
		lo, hi, frac, err := interp.Bracket(c.Values, v)
		if err != nil {
			return nil, 0, err
		}
		return []int{lo, hi}, frac, nil
	}
	i, err := c.Nearest(v)
	if err != nil {
		return nil, 0, err
	}
	return []int{i}, 0, nil
}

func takeValues(c *dataset.Coord, idx []int) []float64 {
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = c.Values[i]
	}
	return out
}

// timeLabels formats the selected time steps as RFC 3339, falling back to
// raw coordinate values when the time coordinate is not CF encoded.
func timeLabels(ds *dataset.Dataset, axis int, index [][]int) []string {
	if axis < 0 {
		return []string{""}
	}
	out := make([]string, len(index[axis]))
	c, ok := ds.Coord(domain.DimTime)
	if !ok {
		for k, i := range index[axis] {
			out[k] = fmt.Sprint(i)
		}
		return out
	}
	times, err := dataset.DecodeTime(c)
	for k, i := range index[axis] {
		if err != nil {
			out[k] = c.Key(i)
		} else {
			out[k] = times[i].Format(time.RFC3339)
		}
	}
	return out
}
