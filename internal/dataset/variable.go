package dataset

import (
	"context"
	"fmt"
)

// ChunkLayout maps dimension names to block extents used when materializing.
// Dimensions without an entry are read whole.
type ChunkLayout map[string]int

// Variable is a named lazy array with labelled dimensions.
type Variable struct {
	Name  string
	Dims  []string
	Attrs Attrs
	src   Source
}

// NewVariable returns a variable over src. dims must match the rank of src.
func NewVariable(name string, dims []string, src Source, attrs Attrs) (*Variable, error) {
	if len(dims) != len(src.Shape()) {
		return nil, fmt.Errorf("variable %s: %d dims for rank-%d source", name, len(dims), len(src.Shape()))
	}
	if attrs == nil {
		attrs = Attrs{}
	}
	return &Variable{Name: name, Dims: append([]string(nil), dims...), Attrs: attrs, src: src}, nil
}

// Shape returns the extent of each dimension.
func (v *Variable) Shape() []int { return append([]int(nil), v.src.Shape()...) }

// Size returns the number of cells.
func (v *Variable) Size() int { return product(v.src.Shape()) }

// Axis returns the position of dim, or -1.
func (v *Variable) Axis(dim string) int {
	for i, d := range v.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// Read materializes the cells at the cartesian product of index.
func (v *Variable) Read(ctx context.Context, index [][]int) ([]float64, error) {
	shape := v.src.Shape()
	if len(index) != len(shape) {
		return nil, fmt.Errorf("variable %s: %d index lists for %d dims", v.Name, len(index), len(shape))
	}
	for d, list := range index {
		for _, i := range list {
			if i < 0 || i >= shape[d] {
				return nil, fmt.Errorf("variable %s: index %d out of range for dim %s (len %d)", v.Name, i, v.Dims[d], shape[d])
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.src.Read(ctx, index)
}

// ReadAll materializes every cell in row-major order.
func (v *Variable) ReadAll(ctx context.Context) ([]float64, error) {
	shape := v.src.Shape()
	index := make([][]int, len(shape))
	for d, n := range shape {
		index[d] = Arange(0, n)
	}
	return v.Read(ctx, index)
}

// ReadBlocks materializes the variable block by block following layout and
// calls fn with each block's index lists and values.
func (v *Variable) ReadBlocks(ctx context.Context, layout ChunkLayout, fn func(index [][]int, values []float64) error) error {
	shape := v.src.Shape()
	steps := make([]int, len(shape))
	counts := make([]int, len(shape))
	for d, n := range shape {
		step := n
		if s, ok := layout[v.Dims[d]]; ok && s > 0 && s < n {
			step = s
		}
		steps[d] = step
		if step > 0 {
			counts[d] = (n + step - 1) / step
		}
	}
	var err error
	eachPosition(counts, func(block []int, _ int) {
		if err != nil {
			return
		}
		index := make([][]int, len(shape))
		for d, b := range block {
			start := b * steps[d]
			index[d] = Arange(start, min(start+steps[d], shape[d]))
		}
		var vals []float64
		if vals, err = v.Read(ctx, index); err != nil {
			return
		}
		err = fn(index, vals)
	})
	return err
}

func (v *Variable) withSource(src Source, dims []string) *Variable {
	return &Variable{Name: v.Name, Dims: dims, Attrs: v.Attrs.Clone(), src: src}
}
