package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Attrs holds metadata attributes of a dataset, variable or coordinate.
type Attrs map[string]any

// Clone returns a shallow copy of a.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// String returns the attribute key as a string.
func (a Attrs) String(key string) (string, bool) {
	s, ok := a[key].(string)
	return s, ok
}

// Float returns the attribute key as a float64, accepting any numeric encoding.
func (a Attrs) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		switch v {
		case "NaN":
			return math.NaN(), true
		case "Infinity":
			return math.Inf(1), true
		case "-Infinity":
			return math.Inf(-1), true
		}
	}
	return 0, false
}

// Coord is a 1-D dimension coordinate. It holds either numeric Values or
// categorical Labels.
type Coord struct {
	Name   string
	Values []float64
	Labels []string
	Attrs  Attrs
}

// NumericCoord returns a coordinate over numeric values.
func NumericCoord(name string, values []float64, attrs Attrs) *Coord {
	if attrs == nil {
		attrs = Attrs{}
	}
	return &Coord{Name: name, Values: values, Attrs: attrs}
}

// LabelCoord returns a categorical coordinate.
func LabelCoord(name string, labels []string, attrs Attrs) *Coord {
	if attrs == nil {
		attrs = Attrs{}
	}
	return &Coord{Name: name, Labels: labels, Attrs: attrs}
}

// Categorical reports whether the coordinate holds labels.
func (c *Coord) Categorical() bool { return c.Labels != nil }

// Len returns the number of coordinate entries.
func (c *Coord) Len() int {
	if c.Categorical() {
		return len(c.Labels)
	}
	return len(c.Values)
}

// Key returns a comparable key for entry i.
func (c *Coord) Key(i int) string {
	if c.Categorical() {
		return c.Labels[i]
	}
	return strconv.FormatFloat(c.Values[i], 'g', -1, 64)
}

// Take returns the coordinate restricted to idx.
func (c *Coord) Take(idx []int) *Coord {
	out := &Coord{Name: c.Name, Attrs: c.Attrs.Clone()}
	if c.Categorical() {
		out.Labels = make([]string, len(idx))
		for k, i := range idx {
			out.Labels[k] = c.Labels[i]
		}
		return out
	}
	out.Values = make([]float64, len(idx))
	for k, i := range idx {
		out.Values[k] = c.Values[i]
	}
	return out
}

// IndexOf returns the position of label in a categorical coordinate.
func (c *Coord) IndexOf(label string) (int, bool) {
	for i, l := range c.Labels {
		if l == label {
			return i, true
		}
	}
	return -1, false
}

// Nearest returns the index of the numeric entry closest to v.
func (c *Coord) Nearest(v float64) (int, error) {
	if c.Categorical() {
		return -1, fmt.Errorf("coordinate %s is categorical", c.Name)
	}
	if len(c.Values) == 0 {
		return -1, fmt.Errorf("coordinate %s is empty", c.Name)
	}
	best, bestDist := 0, math.Inf(1)
	for i, x := range c.Values {
		if d := math.Abs(x - v); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, nil
}

// Range returns the minimum and maximum numeric values.
func (c *Coord) Range() (lo, hi float64, ok bool) {
	if c.Categorical() || len(c.Values) == 0 {
		return 0, 0, false
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range c.Values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, true
}

// unionCoords returns the sorted union of entries of coords, which must agree
// on being categorical or numeric.
func unionCoords(name string, coords []*Coord) (*Coord, error) {
	categorical := coords[0].Categorical()
	for _, c := range coords[1:] {
		if c.Categorical() != categorical {
			return nil, fmt.Errorf("coordinate %s mixes categorical and numeric values", name)
		}
	}
	if categorical {
		seen := make(map[string]bool)
		var labels []string
		for _, c := range coords {
			for _, l := range c.Labels {
				if !seen[l] {
					seen[l] = true
					labels = append(labels, l)
				}
			}
		}
		sort.Strings(labels)
		return LabelCoord(name, labels, coords[0].Attrs.Clone()), nil
	}
	seen := make(map[float64]bool)
	var values []float64
	for _, c := range coords {
		for _, v := range c.Values {
			if !seen[v] {
				seen[v] = true
				values = append(values, v)
			}
		}
	}
	sort.Float64s(values)
	return NumericCoord(name, values, coords[0].Attrs.Clone()), nil
}

// equalCoords reports whether a and b hold identical entries in identical order.
func equalCoords(a, b *Coord) bool {
	if a.Categorical() != b.Categorical() || a.Len() != b.Len() {
		return false
	}
	for i := 0; i < a.Len(); i++ {
		if a.Key(i) != b.Key(i) {
			return false
		}
	}
	return true
}
