package zarr

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"go.ngs.io/nexgddp-api/internal/dataset"
)

// Observer receives store and chunk I/O events.
type Observer interface {
	StoreOpened(err error)
	ChunkRead(bytes int, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) StoreOpened(error)                   {}
func (nopObserver) ChunkRead(int, time.Duration, error) {}

// encodingAttrs are the CF attributes consumed while decoding values.
var encodingAttrs = []string{"_FillValue", "missing_value", "scale_factor", "add_offset", "_ARRAY_DIMENSIONS"}

// Array is one Zarr array of a group. Numeric arrays implement dataset.Source
// with CF masking and scaling applied.
type Array struct {
	Name  string
	Dims  []string
	Attrs dataset.Attrs

	meta       ArrayMetadata
	dtype      dtype
	fill       fillValue
	decompress decompressor
	filters    []filter

	missing       []float64
	scale, offset float64

	bucket   *blob.Bucket
	key      string
	observer Observer
}

func newArray(bucket *blob.Bucket, key, name string, meta ArrayMetadata, attrs dataset.Attrs, observer Observer) (*Array, error) {
	if err := meta.validate(); err != nil {
		return nil, fmt.Errorf("array %s: %w", name, err)
	}
	dt, err := parseDType(meta.DType)
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", name, err)
	}
	fill, err := parseFillValue(meta.FillValue, dt)
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", name, err)
	}
	dec, err := newDecompressor(meta.Compressor)
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", name, err)
	}
	filters, err := newFilters(meta.Filters)
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", name, err)
	}
	if dt.kind == kindObject && len(filters) == 0 {
		return nil, fmt.Errorf("array %s: object dtype without a vlen-utf8 filter", name)
	}
	dims, err := arrayDims(attrs, len(meta.Shape))
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", name, err)
	}
	if observer == nil {
		observer = nopObserver{}
	}

	a := &Array{
		Name:       name,
		Dims:       dims,
		Attrs:      dataset.Attrs{},
		meta:       meta,
		dtype:      dt,
		fill:       fill,
		decompress: dec,
		filters:    filters,
		scale:      1,
		bucket:     bucket,
		key:        key,
		observer:   observer,
	}
	if dt.numeric() {
		if fill.present && !math.IsNaN(fill.number) {
			a.missing = append(a.missing, fill.number)
		}
		for _, k := range []string{"_FillValue", "missing_value"} {
			a.missing = append(a.missing, attrFloats(attrs[k])...)
		}
		if v, ok := attrs.Float("scale_factor"); ok {
			a.scale = v
		}
		if v, ok := attrs.Float("add_offset"); ok {
			a.offset = v
		}
	}
	for k, v := range attrs {
		a.Attrs[k] = v
	}
	for _, k := range encodingAttrs {
		delete(a.Attrs, k)
	}
	return a, nil
}

func arrayDims(attrs dataset.Attrs, rank int) ([]string, error) {
	raw, ok := attrs["_ARRAY_DIMENSIONS"].([]any)
	if !ok {
		if rank == 0 {
			return []string{}, nil
		}
		return nil, fmt.Errorf("no _ARRAY_DIMENSIONS attribute")
	}
	if len(raw) != rank {
		return nil, fmt.Errorf("_ARRAY_DIMENSIONS has %d names for rank %d", len(raw), rank)
	}
	dims := make([]string, rank)
	for i, r := range raw {
		s, ok := r.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("_ARRAY_DIMENSIONS entry %d is not a name", i)
		}
		dims[i] = s
	}
	return dims, nil
}

// attrFloats reads a scalar or list attribute as numbers.
func attrFloats(v any) []float64 {
	if list, ok := v.([]any); ok {
		var out []float64
		for _, x := range list {
			out = append(out, attrFloats(x)...)
		}
		return out
	}
	if f, ok := (dataset.Attrs{"v": v}).Float("v"); ok && !math.IsNaN(f) {
		return []float64{f}
	}
	return nil
}

// Numeric reports whether the array holds numbers.
func (a *Array) Numeric() bool { return a.dtype.numeric() }

// Shape returns the array extent along each axis.
func (a *Array) Shape() []int { return a.meta.Shape }

// Read returns the decoded values at the cartesian product of index, fetching
// only the chunks that hold requested cells.
func (a *Array) Read(ctx context.Context, index [][]int) ([]float64, error) {
	if !a.dtype.numeric() {
		return nil, fmt.Errorf("array %s is not numeric", a.Name)
	}
	if len(index) != len(a.meta.Shape) {
		return nil, fmt.Errorf("array %s: %d index lists for rank %d", a.Name, len(index), len(a.meta.Shape))
	}
	groups := make([][]chunkSelection, len(index))
	lens := make([]int, len(index))
	for d, list := range index {
		groups[d] = selectChunks(list, a.meta.Chunks[d])
		lens[d] = len(list)
	}

	out := make([]float64, product(lens))
	outStrides := stridesC(lens)
	inStrides := a.chunkStrides()
	counts := make([]int, len(groups))
	for d, g := range groups {
		counts[d] = len(g)
	}

	coords := make([]int, len(groups))
	var err error
	forEachPosition(counts, func(gpos []int) {
		if err != nil {
			return
		}
		sub := make([]int, len(groups))
		for d, g := range gpos {
			coords[d] = groups[d][g].chunk
			sub[d] = len(groups[d][g].out)
		}
		var vals []float64
		if vals, err = a.readChunk(ctx, coords); err != nil {
			return
		}
		forEachPosition(sub, func(pos []int) {
			o, c := 0, 0
			for d, p := range pos {
				s := &groups[d][gpos[d]]
				o += s.out[p] * outStrides[d]
				c += s.in[p] * inStrides[d]
			}
			out[o] = vals[c]
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadStrings returns every element of a 1-D string array.
func (a *Array) ReadStrings(ctx context.Context) ([]string, error) {
	if a.dtype.numeric() {
		return nil, fmt.Errorf("array %s is not a string array", a.Name)
	}
	if len(a.meta.Shape) != 1 {
		return nil, fmt.Errorf("array %s: string arrays must be 1-D, got rank %d", a.Name, len(a.meta.Shape))
	}
	n, step := a.meta.Shape[0], a.meta.Chunks[0]
	out := make([]string, 0, n)
	for c := 0; c*step < n; c++ {
		items, err := a.readStringChunk(ctx, c)
		if err != nil {
			return nil, err
		}
		take := min(step, n-c*step)
		if len(items) < take {
			return nil, fmt.Errorf("array %s: chunk %d holds %d items, want %d", a.Name, c, len(items), take)
		}
		out = append(out, items[:take]...)
	}
	return out, nil
}

func (a *Array) chunkKey(coords []int) string {
	if len(coords) == 0 {
		return a.key + "/0"
	}
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.Itoa(c)
	}
	return a.key + "/" + strings.Join(parts, a.meta.separator())
}

// fetch returns the decompressed chunk bytes, or nil for a chunk that was
// never written.
func (a *Array) fetch(ctx context.Context, coords []int) ([]byte, error) {
	key := a.chunkKey(coords)
	start := time.Now()
	data, err := a.bucket.ReadAll(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		a.observer.ChunkRead(0, time.Since(start), nil)
		return nil, nil
	}
	if err != nil {
		a.observer.ChunkRead(0, time.Since(start), err)
		return nil, fmt.Errorf("read chunk %s: %w", key, err)
	}
	raw, err := a.decompress(data, product(a.meta.Chunks)*a.dtype.size)
	a.observer.ChunkRead(len(data), time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %s: %w", key, err)
	}
	return raw, nil
}

func (a *Array) readChunk(ctx context.Context, coords []int) ([]float64, error) {
	n := product(a.meta.Chunks)
	raw, err := a.fetch(ctx, coords)
	if err != nil {
		return nil, err
	}
	vals := make([]float64, n)
	if raw == nil {
		fill := math.NaN()
		if a.fill.present {
			fill = a.decode(a.fill.number)
		}
		for i := range vals {
			vals[i] = fill
		}
		return vals, nil
	}
	size := a.dtype.size
	if len(raw) < n*size {
		return nil, fmt.Errorf("chunk %s: %d bytes, want %d", a.chunkKey(coords), len(raw), n*size)
	}
	for i := range vals {
		vals[i] = a.decode(a.dtype.float(raw[i*size:]))
	}
	return vals, nil
}

func (a *Array) readStringChunk(ctx context.Context, c int) ([]string, error) {
	n := a.meta.Chunks[0]
	raw, err := a.fetch(ctx, []int{c})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		items := make([]string, n)
		for i := range items {
			items[i] = a.fill.text
		}
		return items, nil
	}
	if a.dtype.kind == kindObject {
		var items []string
		for _, f := range a.filters {
			next, strs, err := f(raw)
			if err != nil {
				return nil, fmt.Errorf("chunk %s: %w", a.chunkKey([]int{c}), err)
			}
			raw, items = next, strs
		}
		return items, nil
	}
	size := a.dtype.size
	if len(raw) < n*size {
		return nil, fmt.Errorf("chunk %s: %d bytes, want %d", a.chunkKey([]int{c}), len(raw), n*size)
	}
	items := make([]string, n)
	for i := range items {
		items[i] = a.dtype.text(raw[i*size:])
	}
	return items, nil
}

// decode applies CF masking then scaling to a stored value.
func (a *Array) decode(v float64) float64 {
	for _, m := range a.missing {
		if v == m {
			return math.NaN()
		}
	}
	if a.scale != 1 || a.offset != 0 {
		return v*a.scale + a.offset
	}
	return v
}

func (a *Array) chunkStrides() []int {
	if a.meta.Order == "F" {
		strides := make([]int, len(a.meta.Chunks))
		s := 1
		for d, c := range a.meta.Chunks {
			strides[d] = s
			s *= c
		}
		return strides
	}
	return stridesC(a.meta.Chunks)
}

// chunkSelection groups the requested positions of one axis that fall in a
// single chunk: out holds positions in the request, in the offsets within
// the chunk.
type chunkSelection struct {
	chunk int
	out   []int
	in    []int
}

func selectChunks(list []int, extent int) []chunkSelection {
	var groups []chunkSelection
	byChunk := make(map[int]int)
	for k, i := range list {
		c := i / extent
		g, ok := byChunk[c]
		if !ok {
			g = len(groups)
			byChunk[c] = g
			groups = append(groups, chunkSelection{chunk: c})
		}
		groups[g].out = append(groups[g].out, k)
		groups[g].in = append(groups[g].in, i-c*extent)
	}
	return groups
}

func forEachPosition(lens []int, fn func(pos []int)) {
	total := product(lens)
	if total == 0 {
		return
	}
	pos := make([]int, len(lens))
	for n := 0; n < total; n++ {
		fn(pos)
		for d := len(lens) - 1; d >= 0; d-- {
			pos[d]++
			if pos[d] < lens[d] {
				break
			}
			pos[d] = 0
		}
	}
}

func stridesC(shape []int) []int {
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
