// Package export writes assembled datasets to NetCDF files.
package export

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/nexgddp-api/internal/dataset"
	"go.ngs.io/nexgddp-api/internal/domain"
)

// Cells returns the number of data cells across every variable of ds.
func Cells(ds *dataset.Dataset) int {
	n := 0
	for _, name := range ds.VariableNames() {
		v, _ := ds.Variable(name)
		n += v.Size()
	}
	return n
}

// WriteNetCDF materializes ds block by block along layout and writes it to
// a NetCDF-4 file at path. Data variables are stored as FLOAT with NaN fill.
// A maxCells of zero or less disables the size check.
func WriteNetCDF(ctx context.Context, path string, ds *dataset.Dataset, layout dataset.ChunkLayout, maxCells int) (err error) {
	if n := Cells(ds); maxCells > 0 && n > maxCells {
		return &domain.ReadLimitError{Cells: n, Limit: maxCells}
	}

	nc, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("failed to create NetCDF file: %w", err)
	}
	defer func() {
		if cerr := nc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close NetCDF file: %w", cerr)
		}
	}()

	// Define mode: dimensions, coordinates, variables and attributes.
	dims := make(map[string]netcdf.Dim)
	for _, name := range ds.Dims() {
		size, _ := ds.Size(name)
		d, err := nc.AddDim(name, uint64(size))
		if err != nil {
			return fmt.Errorf("failed to add dimension %s: %w", name, err)
		}
		dims[name] = d
	}

	type coordVar struct {
		coord *dataset.Coord
		v     netcdf.Var
		width int
	}
	var coords []coordVar
	for _, name := range ds.Dims() {
		c, ok := ds.Coord(name)
		if !ok {
			continue
		}
		cv := coordVar{coord: c}
		if c.Categorical() {
			cv.width = labelWidth(c.Labels)
			strlen, err := nc.AddDim(name+"_strlen", uint64(cv.width))
			if err != nil {
				return fmt.Errorf("failed to add dimension %s_strlen: %w", name, err)
			}
			cv.v, err = nc.AddVar(name, netcdf.CHAR, []netcdf.Dim{dims[name], strlen})
			if err != nil {
				return fmt.Errorf("failed to add coordinate %s: %w", name, err)
			}
		} else {
			cv.v, err = nc.AddVar(name, netcdf.DOUBLE, []netcdf.Dim{dims[name]})
			if err != nil {
				return fmt.Errorf("failed to add coordinate %s: %w", name, err)
			}
		}
		if err := writeAttrs(cv.v.Attr, c.Attrs); err != nil {
			return fmt.Errorf("coordinate %s: %w", name, err)
		}
		coords = append(coords, cv)
	}

	vars := make(map[string]netcdf.Var)
	for _, name := range ds.VariableNames() {
		v, _ := ds.Variable(name)
		vdims := make([]netcdf.Dim, len(v.Dims))
		for i, d := range v.Dims {
			vdims[i] = dims[d]
		}
		nv, err := nc.AddVar(name, netcdf.FLOAT, vdims)
		if err != nil {
			return fmt.Errorf("failed to add variable %s: %w", name, err)
		}
		if err := nv.Attr("_FillValue").WriteFloat32s([]float32{float32(math.NaN())}); err != nil {
			return fmt.Errorf("variable %s: failed to write _FillValue: %w", name, err)
		}
		attrs := v.Attrs.Clone()
		delete(attrs, "_FillValue")
		if err := writeAttrs(nv.Attr, attrs); err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		vars[name] = nv
	}
	if err := writeAttrs(nc.Attr, ds.Attrs); err != nil {
		return fmt.Errorf("global: %w", err)
	}
	if err := nc.EndDef(); err != nil {
		return fmt.Errorf("failed to end define mode: %w", err)
	}

	// Data mode.
	for _, cv := range coords {
		if cv.coord.Categorical() {
			err = cv.v.WriteBytes(packLabels(cv.coord.Labels, cv.width))
		} else {
			err = cv.v.WriteFloat64s(cv.coord.Values)
		}
		if err != nil {
			return fmt.Errorf("failed to write coordinate %s: %w", cv.coord.Name, err)
		}
	}
	for _, name := range ds.VariableNames() {
		v, _ := ds.Variable(name)
		data, err := materialize(ctx, v, layout)
		if err != nil {
			return fmt.Errorf("failed to read variable %s: %w", name, err)
		}
		if err := vars[name].WriteFloat32s(data); err != nil {
			return fmt.Errorf("failed to write variable %s: %w", name, err)
		}
	}
	return nil
}

// materialize reads v block by block into one row-major float32 buffer.
func materialize(ctx context.Context, v *dataset.Variable, layout dataset.ChunkLayout) ([]float32, error) {
	shape := v.Shape()
	strides := make([]int, len(shape))
	s := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = s
		s *= shape[d]
	}
	out := make([]float32, v.Size())
	err := v.ReadBlocks(ctx, layout, func(index [][]int, values []float64) error {
		pos := make([]int, len(index))
		for _, val := range values {
			off := 0
			for d, p := range pos {
				off += index[d][p] * strides[d]
			}
			out[off] = float32(val)
			for d := len(pos) - 1; d >= 0; d-- {
				pos[d]++
				if pos[d] < len(index[d]) {
					break
				}
				pos[d] = 0
			}
		}
		return nil
	})
	return out, err
}

// writeAttrs writes the string and numeric entries of attrs in key order.
// Values of other types are skipped.
func writeAttrs(attr func(string) netcdf.Attr, attrs dataset.Attrs) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var err error
		switch val := attrs[k].(type) {
		case string:
			if val == "" {
				continue
			}
			err = attr(k).WriteBytes([]byte(val))
		case bool:
			err = attr(k).WriteBytes([]byte(fmt.Sprint(val)))
		case []any:
			nums := make([]float64, 0, len(val))
			for _, e := range val {
				if f, ok := toFloat(e); ok {
					nums = append(nums, f)
				}
			}
			if len(nums) == 0 || len(nums) != len(val) {
				continue
			}
			err = attr(k).WriteFloat64s(nums)
		case []float64:
			if len(val) == 0 {
				continue
			}
			err = attr(k).WriteFloat64s(val)
		default:
			f, ok := toFloat(val)
			if !ok {
				continue
			}
			err = attr(k).WriteFloat64s([]float64{f})
		}
		if err != nil {
			return fmt.Errorf("failed to write attribute %s: %w", k, err)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func labelWidth(labels []string) int {
	w := 1
	for _, l := range labels {
		w = max(w, len(l))
	}
	return w
}

func packLabels(labels []string, width int) []byte {
	out := make([]byte, len(labels)*width)
	for i, l := range labels {
		copy(out[i*width:], l)
	}
	return out
}
