package dataset

import (
	"fmt"
	"sort"
)

// Dataset is a collection of dimension coordinates and lazy data variables
// sharing named dimensions.
type Dataset struct {
	Attrs Attrs

	dims   []string
	sizes  map[string]int
	coords map[string]*Coord
	vars   map[string]*Variable

	xDim, yDim string
}

// New returns an empty dataset.
func New() *Dataset {
	return &Dataset{
		Attrs:  Attrs{},
		sizes:  make(map[string]int),
		coords: make(map[string]*Coord),
		vars:   make(map[string]*Variable),
	}
}

// Clone returns a shallow copy; coordinates and variables are shared,
// attributes are copied.
func (d *Dataset) Clone() *Dataset {
	out := New()
	out.Attrs = d.Attrs.Clone()
	out.dims = append([]string(nil), d.dims...)
	for k, v := range d.sizes {
		out.sizes[k] = v
	}
	for k, v := range d.coords {
		out.coords[k] = v
	}
	for k, v := range d.vars {
		out.vars[k] = v
	}
	out.xDim, out.yDim = d.xDim, d.yDim
	return out
}

func (d *Dataset) setDim(dim string, n int) error {
	if have, ok := d.sizes[dim]; ok {
		if have != n {
			return fmt.Errorf("dimension %s has length %d, got %d", dim, have, n)
		}
		return nil
	}
	d.dims = append(d.dims, dim)
	d.sizes[dim] = n
	return nil
}

// AddCoord adds a dimension coordinate named after its dimension.
func (d *Dataset) AddCoord(c *Coord) error {
	if err := d.setDim(c.Name, c.Len()); err != nil {
		return fmt.Errorf("coordinate %s: %w", c.Name, err)
	}
	d.coords[c.Name] = c
	return nil
}

// AddVariable adds a data variable, registering any new dimensions.
func (d *Dataset) AddVariable(v *Variable) error {
	if _, ok := d.coords[v.Name]; ok {
		return fmt.Errorf("variable %s collides with a coordinate", v.Name)
	}
	for i, n := range v.src.Shape() {
		if err := d.setDim(v.Dims[i], n); err != nil {
			return fmt.Errorf("variable %s: %w", v.Name, err)
		}
	}
	d.vars[v.Name] = v
	return nil
}

// Dims returns the dimension names in order of registration.
func (d *Dataset) Dims() []string { return append([]string(nil), d.dims...) }

// Size returns the length of dim.
func (d *Dataset) Size(dim string) (int, bool) {
	n, ok := d.sizes[dim]
	return n, ok
}

// Coord returns the coordinate of dim.
func (d *Dataset) Coord(dim string) (*Coord, bool) {
	c, ok := d.coords[dim]
	return c, ok
}

// Variable returns the data variable name.
func (d *Dataset) Variable(name string) (*Variable, bool) {
	v, ok := d.vars[name]
	return v, ok
}

// VariableNames returns the data variable names sorted.
func (d *Dataset) VariableNames() []string {
	names := make([]string, 0, len(d.vars))
	for n := range d.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetSpatialDims designates the x (longitude) and y (latitude) dimensions.
func (d *Dataset) SetSpatialDims(x, y string) error {
	for _, dim := range []string{x, y} {
		c, ok := d.coords[dim]
		if !ok {
			return fmt.Errorf("spatial dimension %s has no coordinate", dim)
		}
		if c.Categorical() {
			return fmt.Errorf("spatial dimension %s is categorical", dim)
		}
	}
	d.xDim, d.yDim = x, y
	return nil
}

// SpatialDims returns the designated spatial dimensions.
func (d *Dataset) SpatialDims() (x, y string, ok bool) {
	return d.xDim, d.yDim, d.xDim != "" && d.yDim != ""
}

// Isel returns the dataset restricted to idx along dim.
func (d *Dataset) Isel(dim string, idx []int) (*Dataset, error) {
	n, ok := d.sizes[dim]
	if !ok {
		return nil, fmt.Errorf("no dimension %s", dim)
	}
	for _, i := range idx {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("index %d out of range for dimension %s (len %d)", i, dim, n)
		}
	}
	out := d.Clone()
	out.sizes[dim] = len(idx)
	if c, ok := d.coords[dim]; ok {
		out.coords[dim] = c.Take(idx)
	}
	for name, v := range d.vars {
		axis := v.Axis(dim)
		if axis < 0 {
			continue
		}
		out.vars[name] = v.withSource(newTakeSource(v.src, axis, idx), v.Dims)
	}
	return out, nil
}

// Roll rotates dim by shift positions, coordinates included: entry i of the
// result is entry (i - shift) mod n of d.
func (d *Dataset) Roll(dim string, shift int) (*Dataset, error) {
	n, ok := d.sizes[dim]
	if !ok {
		return nil, fmt.Errorf("no dimension %s", dim)
	}
	if n == 0 {
		return d.Clone(), nil
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = ((i-shift)%n + n) % n
	}
	return d.Isel(dim, idx)
}

// AssignCoord replaces the coordinate of an existing dimension.
func (d *Dataset) AssignCoord(c *Coord) (*Dataset, error) {
	n, ok := d.sizes[c.Name]
	if !ok {
		return nil, fmt.Errorf("no dimension %s", c.Name)
	}
	if c.Len() != n {
		return nil, fmt.Errorf("coordinate %s has %d entries for dimension of length %d", c.Name, c.Len(), n)
	}
	out := d.Clone()
	out.coords[c.Name] = c
	return out, nil
}

// ExpandDims inserts a new leading length-1 dimension labelled label into the
// dataset and every data variable.
func (d *Dataset) ExpandDims(dim, label string) (*Dataset, error) {
	if _, ok := d.sizes[dim]; ok {
		return nil, fmt.Errorf("dimension %s already exists", dim)
	}
	out := New()
	out.Attrs = d.Attrs.Clone()
	out.dims = append([]string{dim}, d.dims...)
	for k, v := range d.sizes {
		out.sizes[k] = v
	}
	out.sizes[dim] = 1
	for k, v := range d.coords {
		out.coords[k] = v
	}
	out.coords[dim] = LabelCoord(dim, []string{label}, nil)
	for name, v := range d.vars {
		out.vars[name] = v.withSource(newExpandSource(v.src, 0), append([]string{dim}, v.Dims...))
	}
	out.xDim, out.yDim = d.xDim, d.yDim
	return out, nil
}

// MaskGrid blanks cells of every variable spanning both ydim and xdim where
// keep[y][x] is false. keep is indexed by positions along the two dimensions.
func (d *Dataset) MaskGrid(ydim, xdim string, keep [][]bool) (*Dataset, error) {
	ny, okY := d.sizes[ydim]
	nx, okX := d.sizes[xdim]
	if !okY || !okX {
		return nil, fmt.Errorf("mask needs dimensions %s and %s", ydim, xdim)
	}
	if len(keep) != ny {
		return nil, fmt.Errorf("mask has %d rows for %s of length %d", len(keep), ydim, ny)
	}
	for _, row := range keep {
		if len(row) != nx {
			return nil, fmt.Errorf("mask row has %d columns for %s of length %d", len(row), xdim, nx)
		}
	}
	out := d.Clone()
	for name, v := range d.vars {
		ya, xa := v.Axis(ydim), v.Axis(xdim)
		if ya < 0 || xa < 0 {
			continue
		}
		out.vars[name] = v.withSource(&maskSource{base: v.src, yAxis: ya, xAxis: xa, keep: keep}, v.Dims)
	}
	return out, nil
}
