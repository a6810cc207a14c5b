// Package dataset provides lazily evaluated, labelled multi-dimensional arrays.
//
// A Dataset holds in-memory 1-D dimension coordinates and data variables whose
// values stay behind a Source until they are read. Selection, rolling, masking
// and combining only compose Sources; no values are fetched until Read.
package dataset

import (
	"context"
	"fmt"
	"math"
)

// Source supplies the values of an n-dimensional array on demand.
type Source interface {
	// Shape returns the extent along each axis.
	Shape() []int

	// Read returns the values at the cartesian product of index, one index
	// list per axis, in row-major order. Index lists may be unsorted and may
	// repeat entries.
	Read(ctx context.Context, index [][]int) ([]float64, error)
}

// memSource is a Source over an in-memory row-major buffer.
type memSource struct {
	shape []int
	data  []float64
}

// NewMemSource returns a Source over data laid out row-major with the given shape.
func NewMemSource(shape []int, data []float64) (Source, error) {
	if n := product(shape); n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", shape, n, len(data))
	}
	return &memSource{shape: append([]int(nil), shape...), data: data}, nil
}

func (s *memSource) Shape() []int { return s.shape }

func (s *memSource) Read(_ context.Context, index [][]int) ([]float64, error) {
	strides := rowMajorStrides(s.shape)
	out := make([]float64, countOf(index))
	eachPosition(lengthsOf(index), func(pos []int, flat int) {
		off := 0
		for d, p := range pos {
			off += index[d][p] * strides[d]
		}
		out[flat] = s.data[off]
	})
	return out, nil
}

// takeSource selects indices along some axes of a base Source.
// A nil map means the axis is passed through unchanged.
type takeSource struct {
	base  Source
	maps  [][]int
	shape []int
}

func newTakeSource(base Source, axis int, idx []int) Source {
	shape := append([]int(nil), base.Shape()...)
	maps := make([][]int, len(shape))
	if t, ok := base.(*takeSource); ok {
		// Collapse nested selections onto the original base.
		maps = append([][]int(nil), t.maps...)
		base = t.base
	}
	composed := make([]int, len(idx))
	for i, j := range idx {
		if maps[axis] != nil {
			j = maps[axis][j]
		}
		composed[i] = j
	}
	maps[axis] = composed
	shape[axis] = len(idx)
	return &takeSource{base: base, maps: maps, shape: shape}
}

func (s *takeSource) Shape() []int { return s.shape }

func (s *takeSource) Read(ctx context.Context, index [][]int) ([]float64, error) {
	mapped := make([][]int, len(index))
	for d, list := range index {
		if s.maps[d] == nil {
			mapped[d] = list
			continue
		}
		mapped[d] = make([]int, len(list))
		for k, i := range list {
			mapped[d][k] = s.maps[d][i]
		}
	}
	return s.base.Read(ctx, mapped)
}

// expandSource inserts a length-1 axis into a base Source.
type expandSource struct {
	base  Source
	axis  int
	shape []int
}

func newExpandSource(base Source, axis int) Source {
	inner := base.Shape()
	shape := make([]int, 0, len(inner)+1)
	shape = append(shape, inner[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, inner[axis:]...)
	return &expandSource{base: base, axis: axis, shape: shape}
}

func (s *expandSource) Shape() []int { return s.shape }

func (s *expandSource) Read(ctx context.Context, index [][]int) ([]float64, error) {
	inner := make([][]int, 0, len(index)-1)
	inner = append(inner, index[:s.axis]...)
	inner = append(inner, index[s.axis+1:]...)
	vals, err := s.base.Read(ctx, inner)
	if err != nil {
		return nil, err
	}
	if len(index[s.axis]) == 1 {
		return vals, nil
	}
	// Repeated selections of the inserted axis replicate the inner values.
	innerStrides := rowMajorStrides(lengthsOf(inner))
	out := make([]float64, countOf(index))
	eachPosition(lengthsOf(index), func(pos []int, flat int) {
		off, k := 0, 0
		for d, p := range pos {
			if d == s.axis {
				continue
			}
			off += p * innerStrides[k]
			k++
		}
		out[flat] = vals[off]
	})
	return out, nil
}

// piece is one member of a mosaic together with the mapping from mosaic
// indices to member indices (-1 where the member has no value).
// A nil map means the axis is shared unchanged.
type piece struct {
	src  Source
	maps [][]int
}

// mosaicSource lays several Sources onto a common grid. Cells covered by no
// piece read as NaN; where pieces overlap the later piece wins.
type mosaicSource struct {
	shape  []int
	pieces []piece
}

func (s *mosaicSource) Shape() []int { return s.shape }

func (s *mosaicSource) Read(ctx context.Context, index [][]int) ([]float64, error) {
	out := make([]float64, countOf(index))
	for i := range out {
		out[i] = math.NaN()
	}
	outStrides := rowMajorStrides(lengthsOf(index))
	for _, p := range s.pieces {
		sub := make([][]int, len(index))
		where := make([][]int, len(index))
		empty := false
		for d, list := range index {
			for k, i := range list {
				j := i
				if p.maps[d] != nil {
					j = p.maps[d][i]
				}
				if j < 0 {
					continue
				}
				sub[d] = append(sub[d], j)
				where[d] = append(where[d], k)
			}
			if len(sub[d]) == 0 {
				empty = true
				break
			}
		}
		if empty {
			continue
		}
		vals, err := p.src.Read(ctx, sub)
		if err != nil {
			return nil, err
		}
		eachPosition(lengthsOf(sub), func(pos []int, flat int) {
			off := 0
			for d, q := range pos {
				off += where[d][q] * outStrides[d]
			}
			out[off] = vals[flat]
		})
	}
	return out, nil
}

// maskSource blanks cells of a 2-D sub-grid of a base Source.
type maskSource struct {
	base         Source
	yAxis, xAxis int
	keep         [][]bool // keep[y][x] in base indices.
}

func (s *maskSource) Shape() []int { return s.base.Shape() }

func (s *maskSource) Read(ctx context.Context, index [][]int) ([]float64, error) {
	vals, err := s.base.Read(ctx, index)
	if err != nil {
		return nil, err
	}
	eachPosition(lengthsOf(index), func(pos []int, flat int) {
		y := index[s.yAxis][pos[s.yAxis]]
		x := index[s.xAxis][pos[s.xAxis]]
		if !s.keep[y][x] {
			vals[flat] = math.NaN()
		}
	})
	return vals, nil
}

// eachPosition calls fn for every position of a row-major grid with the given
// extents. pos is reused between calls.
func eachPosition(lens []int, fn func(pos []int, flat int)) {
	total := product(lens)
	if total == 0 {
		return
	}
	pos := make([]int, len(lens))
	for flat := 0; flat < total; flat++ {
		fn(pos, flat)
		for d := len(lens) - 1; d >= 0; d-- {
			pos[d]++
			if pos[d] < lens[d] {
				break
			}
			pos[d] = 0
		}
	}
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = s
		s *= shape[d]
	}
	return strides
}

func product(lens []int) int {
	n := 1
	for _, l := range lens {
		n *= l
	}
	return n
}

func lengthsOf(index [][]int) []int {
	lens := make([]int, len(index))
	for d, list := range index {
		lens[d] = len(list)
	}
	return lens
}

func countOf(index [][]int) int {
	return product(lengthsOf(index))
}

// Arange returns the indices [start, stop).
func Arange(start, stop int) []int {
	if stop < start {
		return nil
	}
	out := make([]int, stop-start)
	for i := range out {
		out[i] = start + i
	}
	return out
}
