package usecase

import (
	"math"
	"time"

	"go.ngs.io/nexgddp-api/internal/dataset"
	"go.ngs.io/nexgddp-api/internal/domain"
)

// DatasetSummary describes a lazy dataset without reading data values.
type DatasetSummary struct {
	Dims      map[string]int             `json:"dims"`
	Coords    map[string]CoordSummary    `json:"coords"`
	Variables map[string]VariableSummary `json:"variables"`
	Attrs     map[string]any             `json:"attrs"`
	Groups    []string                   `json:"groups,omitempty"`
}

// CoordSummary describes one dimension coordinate. First and Last are
// RFC 3339 strings for CF time coordinates and numbers otherwise.
type CoordSummary struct {
	Len    int      `json:"len"`
	First  any      `json:"first,omitempty"`
	Last   any      `json:"last,omitempty"`
	Labels []string `json:"labels,omitempty"`
	Units  string   `json:"units,omitempty"`
}

// VariableSummary describes one data variable.
type VariableSummary struct {
	Dims  []string       `json:"dims"`
	Shape []int          `json:"shape"`
	Cells int            `json:"cells"`
	Attrs map[string]any `json:"attrs"`
}

// Describe summarizes ds. groups lists the stores it was assembled from.
// Non-finite attribute values are reported as null.
func Describe(ds *dataset.Dataset, groups []string) DatasetSummary {
	s := DatasetSummary{
		Dims:      make(map[string]int),
		Coords:    make(map[string]CoordSummary),
		Variables: make(map[string]VariableSummary),
		Attrs:     sanitizeAttrs(ds.Attrs),
		Groups:    groups,
	}
	for _, dim := range ds.Dims() {
		n, _ := ds.Size(dim)
		s.Dims[dim] = n
		if c, ok := ds.Coord(dim); ok {
			s.Coords[dim] = describeCoord(c)
		}
	}
	for _, name := range ds.VariableNames() {
		v, _ := ds.Variable(name)
		s.Variables[name] = VariableSummary{
			Dims:  v.Dims,
			Shape: v.Shape(),
			Cells: v.Size(),
			Attrs: sanitizeAttrs(v.Attrs),
		}
	}
	return s
}

func describeCoord(c *dataset.Coord) CoordSummary {
	cs := CoordSummary{Len: c.Len()}
	cs.Units, _ = c.Attrs.String("units")
	if c.Categorical() {
		cs.Labels = append([]string(nil), c.Labels...)
		return cs
	}
	if c.Len() == 0 {
		return cs
	}
	if c.Name == domain.DimTime {
		if times, err := dataset.DecodeTime(c); err == nil {
			cs.First = times[0].Format(time.RFC3339)
			cs.Last = times[len(times)-1].Format(time.RFC3339)
			return cs
		}
	}
	cs.First = sanitize(c.Values[0])
	cs.Last = sanitize(c.Values[len(c.Values)-1])
	return cs
}

func sanitizeAttrs(attrs dataset.Attrs) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = sanitize(v)
	}
	return out
}

// sanitize replaces NaN and infinities, which JSON cannot carry, with nil.
func sanitize(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil
		}
	case []float64:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = sanitize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = sanitize(e)
		}
		return out
	case map[string]any:
		return sanitizeAttrs(x)
	}
	return v
}
