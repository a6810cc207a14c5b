package ncfile

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/nexgddp-api/internal/dataset"
)

// varSource reads a NetCDF variable as a dataset.Source. Each Read fetches the
// bounding hyperslab of the requested indices and gathers from it.
type varSource struct {
	f        *file
	v        netcdf.Var
	typ      netcdf.Type
	shape    []int
	missing  []float64
	scale    float64
	offset   float64
	observer Observer
}

func newVarSource(f *file, v netcdf.Var, shape []int, attrs dataset.Attrs, observer Observer) (*varSource, error) {
	typ, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get variable type: %w", err)
	}
	s := &varSource{f: f, v: v, typ: typ, shape: shape, scale: 1, observer: observer}
	for _, k := range []string{"_FillValue", "missing_value"} {
		switch m := attrs[k].(type) {
		case float64:
			if !math.IsNaN(m) {
				s.missing = append(s.missing, m)
			}
		case []float64:
			s.missing = append(s.missing, m...)
		}
	}
	if v, ok := attrs.Float("scale_factor"); ok {
		s.scale = v
	}
	if v, ok := attrs.Float("add_offset"); ok {
		s.offset = v
	}
	for _, k := range []string{"_FillValue", "missing_value", "scale_factor", "add_offset"} {
		delete(attrs, k)
	}
	return s, nil
}

func (s *varSource) Shape() []int { return s.shape }

func (s *varSource) Read(ctx context.Context, index [][]int) ([]float64, error) {
	if len(index) != len(s.shape) {
		return nil, fmt.Errorf("read needs %d index lists, got %d", len(s.shape), len(index))
	}
	total := 1
	start := make([]uint64, len(index))
	count := make([]uint64, len(index))
	for d, list := range index {
		total *= len(list)
		if len(list) == 0 {
			return []float64{}, nil
		}
		lo, hi := list[0], list[0]
		for _, i := range list {
			if i < 0 || i >= s.shape[d] {
				return nil, fmt.Errorf("index %d out of range for axis %d of length %d", i, d, s.shape[d])
			}
			lo, hi = min(lo, i), max(hi, i)
		}
		start[d], count[d] = uint64(lo), uint64(hi-lo+1)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	began := time.Now()
	s.f.mu.Lock()
	slab, err := readSlice(s.v, s.typ, start, count)
	s.f.mu.Unlock()
	s.observer.ChunkRead(len(slab)*typeSize(s.typ), time.Since(began), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read hyperslab: %w", err)
	}

	strides := make([]int, len(count))
	stride := 1
	for d := len(count) - 1; d >= 0; d-- {
		strides[d] = stride
		stride *= int(count[d])
	}
	out := make([]float64, 0, total)
	pos := make([]int, len(index))
	for range total {
		off := 0
		for d, p := range pos {
			off += (index[d][p] - int(start[d])) * strides[d]
		}
		out = append(out, s.decode(slab[off]))
		for d := len(pos) - 1; d >= 0; d-- {
			pos[d]++
			if pos[d] < len(index[d]) {
				break
			}
			pos[d] = 0
		}
	}
	return out, nil
}

func typeSize(t netcdf.Type) int {
	switch t {
	case netcdf.DOUBLE:
		return 8
	case netcdf.FLOAT, netcdf.INT:
		return 4
	case netcdf.SHORT:
		return 2
	}
	return 1
}

// decode applies CF masking then scaling to a stored value.
func (s *varSource) decode(v float64) float64 {
	for _, m := range s.missing {
		if v == m {
			return math.NaN()
		}
	}
	if s.scale != 1 || s.offset != 0 {
		return v*s.scale + s.offset
	}
	return v
}
