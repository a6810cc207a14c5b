// Package zarrtest writes small Zarr v2 stores into blob buckets for tests.
package zarrtest

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"gocloud.dev/blob"
)

// Array describes one array of a fixture store. Numeric values are given in
// C order over the full shape.
type Array struct {
	Name       string
	Dims       []string
	Shape      []int
	Chunks     []int
	DType      string
	Compressor map[string]any
	Filters    []map[string]any
	FillValue  any
	Order      string
	Attrs      map[string]any

	Values  []float64
	Strings []string

	// SkipChunks lists chunk coordinates that are not written.
	SkipChunks [][]int
}

// Store describes a fixture group.
type Store struct {
	Attrs        map[string]any
	Arrays       []Array
	Consolidated bool
}

// Write stores s under prefix in bucket.
func Write(ctx context.Context, bucket *blob.Bucket, prefix string, s Store) error {
	prefix = strings.Trim(prefix, "/")
	docs := map[string]any{".zgroup": map[string]any{"zarr_format": 2}}
	if s.Attrs != nil {
		docs[".zattrs"] = s.Attrs
	}
	for _, a := range s.Arrays {
		meta, attrs, err := a.documents()
		if err != nil {
			return err
		}
		docs[a.Name+"/.zarray"] = meta
		docs[a.Name+"/.zattrs"] = attrs
		if err := a.writeChunks(ctx, bucket, prefix); err != nil {
			return err
		}
	}
	for key, doc := range docs {
		if err := writeJSON(ctx, bucket, join(prefix, key), doc); err != nil {
			return err
		}
	}
	if s.Consolidated {
		return writeJSON(ctx, bucket, join(prefix, ".zmetadata"), map[string]any{
			"zarr_consolidated_format": 1,
			"metadata":                 docs,
		})
	}
	return nil
}

func (a Array) order() string {
	if a.Order == "" {
		return "C"
	}
	return a.Order
}

func (a Array) documents() (map[string]any, map[string]any, error) {
	if len(a.Shape) != len(a.Chunks) || len(a.Shape) != len(a.Dims) {
		return nil, nil, fmt.Errorf("array %s: dims, shape and chunks differ in rank", a.Name)
	}
	var compressor any
	if a.Compressor != nil {
		compressor = a.Compressor
	}
	var filters any
	if a.Filters != nil {
		filters = a.Filters
	}
	meta := map[string]any{
		"zarr_format": 2,
		"shape":       a.Shape,
		"chunks":      a.Chunks,
		"dtype":       a.DType,
		"compressor":  compressor,
		"fill_value":  a.FillValue,
		"order":       a.order(),
		"filters":     filters,
	}
	attrs := map[string]any{"_ARRAY_DIMENSIONS": a.Dims}
	for k, v := range a.Attrs {
		attrs[k] = v
	}
	return meta, attrs, nil
}

func (a Array) writeChunks(ctx context.Context, bucket *blob.Bucket, prefix string) error {
	counts := make([]int, len(a.Shape))
	for d := range a.Shape {
		counts[d] = (a.Shape[d] + a.Chunks[d] - 1) / a.Chunks[d]
	}
	skip := make(map[string]bool)
	for _, c := range a.SkipChunks {
		skip[chunkName(c)] = true
	}
	var err error
	each(counts, func(coords []int) {
		if err != nil || skip[chunkName(coords)] {
			return
		}
		var raw []byte
		if raw, err = a.encodeChunk(coords); err != nil {
			return
		}
		if raw, err = Compress(a.Compressor, raw, elementSize(a.DType)); err != nil {
			return
		}
		err = bucket.WriteAll(ctx, join(prefix, a.Name+"/"+chunkName(coords)), raw, nil)
	})
	return err
}

func (a Array) encodeChunk(coords []int) ([]byte, error) {
	n := 1
	for _, c := range a.Chunks {
		n *= c
	}
	// Chunk element k in storage order maps to a chunk-local position.
	local := make([]int, len(a.Chunks))
	global := func(k int) (int, bool) {
		if a.order() == "F" {
			for d := 0; d < len(a.Chunks); d++ {
				local[d] = k % a.Chunks[d]
				k /= a.Chunks[d]
			}
		} else {
			for d := len(a.Chunks) - 1; d >= 0; d-- {
				local[d] = k % a.Chunks[d]
				k /= a.Chunks[d]
			}
		}
		flat := 0
		for d := range a.Shape {
			i := coords[d]*a.Chunks[d] + local[d]
			if i >= a.Shape[d] {
				return 0, false
			}
			flat = flat*a.Shape[d] + i
		}
		return flat, true
	}

	kind, size, order := parseDType(a.DType)
	if kind == 'O' {
		items := make([]string, n)
		for k := range items {
			if g, ok := global(k); ok {
				items[k] = a.Strings[g]
			}
		}
		return EncodeVLenUTF8(items), nil
	}
	buf := make([]byte, n*size)
	for k := 0; k < n; k++ {
		g, ok := global(k)
		el := buf[k*size : (k+1)*size]
		switch kind {
		case 'U':
			if !ok {
				continue
			}
			for i, r := range []rune(a.Strings[g]) {
				if (i+1)*4 > size {
					break
				}
				order.PutUint32(el[i*4:], uint32(r))
			}
		case 'S':
			if ok {
				copy(el, a.Strings[g])
			}
		default:
			v := math.NaN()
			if ok {
				v = a.Values[g]
			}
			if err := putNumber(el, kind, order, v); err != nil {
				return nil, fmt.Errorf("array %s: %w", a.Name, err)
			}
		}
	}
	return buf, nil
}

func putNumber(el []byte, kind byte, order binary.ByteOrder, v float64) error {
	switch kind {
	case 'f':
		if len(el) == 4 {
			order.PutUint32(el, math.Float32bits(float32(v)))
		} else {
			order.PutUint64(el, math.Float64bits(v))
		}
	case 'i', 'u':
		if math.IsNaN(v) {
			v = 0
		}
		switch len(el) {
		case 1:
			el[0] = byte(int64(v))
		case 2:
			order.PutUint16(el, uint16(int64(v)))
		case 4:
			order.PutUint32(el, uint32(int64(v)))
		default:
			order.PutUint64(el, uint64(int64(v)))
		}
	case 'b':
		if v != 0 && !math.IsNaN(v) {
			el[0] = 1
		}
	default:
		return fmt.Errorf("unsupported kind %q", kind)
	}
	return nil
}

func parseDType(s string) (byte, int, binary.ByteOrder) {
	var order binary.ByteOrder = binary.LittleEndian
	if s[0] == '>' {
		order = binary.BigEndian
	}
	size, _ := strconv.Atoi(s[2:])
	if s[1] == 'U' {
		size *= 4
	}
	return s[1], size, order
}

func elementSize(dtype string) int {
	if dtype == "|O" {
		return 1
	}
	_, size, _ := parseDType(dtype)
	return size
}

// EncodeVLenUTF8 encodes items in the numcodecs VLenUTF8 layout.
func EncodeVLenUTF8(items []string) []byte {
	var buf bytes.Buffer
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(items)))
	buf.Write(n[:])
	for _, s := range items {
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		buf.Write(n[:])
		buf.WriteString(s)
	}
	return buf.Bytes()
}

// Compress encodes raw with the numcodecs compressor cfg. typesize is the
// element width used by blosc shuffling.
func Compress(cfg map[string]any, raw []byte, typesize int) ([]byte, error) {
	if cfg == nil {
		return raw, nil
	}
	switch id, _ := cfg["id"].(string); id {
	case "zstd":
		return zstdEncode(raw)
	case "zlib":
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "gzip":
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "lz4":
		out := make([]byte, 4+lz4.CompressBlockBound(len(raw)))
		binary.LittleEndian.PutUint32(out, uint32(len(raw)))
		n, err := lz4.CompressBlock(raw, out[4:], nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return append(out[:4], literalBlock(raw)...), nil
		}
		return out[:4+n], nil
	case "blosc":
		cname, _ := cfg["cname"].(string)
		shuffle := false
		if s, ok := cfg["shuffle"].(int); ok {
			shuffle = s == 1
		}
		return EncodeBlosc(raw, BloscOptions{Typesize: typesize, Shuffle: shuffle, Codec: cname, Blocksize: 256, Split: true})
	default:
		return nil, fmt.Errorf("unsupported fixture compressor %q", id)
	}
}

// literalBlock encodes raw as a single LZ4 sequence of literals, for inputs
// CompressBlock reports as incompressible.
func literalBlock(raw []byte) []byte {
	n := len(raw)
	out := []byte{byte(min(n, 15) << 4)}
	if n >= 15 {
		rest := n - 15
		for rest >= 255 {
			out = append(out, 255)
			rest -= 255
		}
		out = append(out, byte(rest))
	}
	return append(out, raw...)
}

func zstdEncode(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// BloscOptions selects how EncodeBlosc frames data.
type BloscOptions struct {
	Typesize  int
	Shuffle   bool
	Codec     string // "zstd", "lz4" or "zlib"
	Blocksize int
	Split     bool
	Memcpyed  bool
}

// EncodeBlosc produces a Blosc 1.x frame.
func EncodeBlosc(data []byte, o BloscOptions) ([]byte, error) {
	if o.Typesize <= 0 {
		o.Typesize = 1
	}
	if o.Blocksize <= 0 || o.Blocksize > len(data) {
		o.Blocksize = len(data)
	}
	var format byte
	switch o.Codec {
	case "lz4", "lz4hc":
		format = 1
	case "zlib":
		format = 3
	case "zstd", "":
		format = 4
	default:
		return nil, fmt.Errorf("unsupported blosc codec %q", o.Codec)
	}
	flags := format << 5
	if o.Shuffle {
		flags |= 0x01
	}
	if !o.Split {
		flags |= 0x10
	}

	header := make([]byte, 16)
	header[0], header[1], header[3] = 2, 1, byte(o.Typesize)
	binary.LittleEndian.PutUint32(header[4:], uint32(len(data)))
	binary.LittleEndian.PutUint32(header[8:], uint32(o.Blocksize))

	if o.Memcpyed || len(data) == 0 {
		header[2] = flags | 0x02
		out := append(header, data...)
		binary.LittleEndian.PutUint32(out[12:], uint32(len(out)))
		return out, nil
	}
	header[2] = flags

	nblocks := (len(data) + o.Blocksize - 1) / o.Blocksize
	leftover := len(data)%o.Blocksize != 0
	bstarts := make([]byte, 4*nblocks)
	var body bytes.Buffer
	offset := 16 + len(bstarts)
	for j := 0; j < nblocks; j++ {
		block := data[j*o.Blocksize : min((j+1)*o.Blocksize, len(data))]
		last := j == nblocks-1 && leftover
		if o.Shuffle && o.Typesize > 1 {
			block = shuffle(block, o.Typesize)
		}
		binary.LittleEndian.PutUint32(bstarts[4*j:], uint32(offset+body.Len()))
		nsplits := 1
		if o.Split && !last && o.Typesize <= 16 && o.Blocksize/o.Typesize >= 128 {
			nsplits = o.Typesize
		}
		neblock := len(block) / nsplits
		for s := 0; s < nsplits; s++ {
			part := block[s*neblock : (s+1)*neblock]
			c, err := bloscSplit(format, part)
			if err != nil {
				return nil, err
			}
			if len(c) == 0 || len(c) >= neblock {
				c = part
			}
			var n [4]byte
			binary.LittleEndian.PutUint32(n[:], uint32(len(c)))
			body.Write(n[:])
			body.Write(c)
		}
	}
	out := append(header, bstarts...)
	out = append(out, body.Bytes()...)
	binary.LittleEndian.PutUint32(out[12:], uint32(len(out)))
	return out, nil
}

func bloscSplit(format byte, part []byte) ([]byte, error) {
	switch format {
	case 1:
		dst := make([]byte, lz4.CompressBlockBound(len(part)))
		n, err := lz4.CompressBlock(part, dst, nil)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	case 3:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(part); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return zstdEncode(part)
	}
}

func shuffle(block []byte, typesize int) []byte {
	out := make([]byte, len(block))
	n := len(block) / typesize
	for j := 0; j < typesize; j++ {
		for i := 0; i < n; i++ {
			out[j*n+i] = block[i*typesize+j]
		}
	}
	copy(out[n*typesize:], block[n*typesize:])
	return out
}

func writeJSON(ctx context.Context, bucket *blob.Bucket, key string, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return bucket.WriteAll(ctx, key, b, nil)
}

func chunkName(coords []int) string {
	if len(coords) == 0 {
		return "0"
	}
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ".")
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func each(lens []int, fn func(pos []int)) {
	total := 1
	for _, l := range lens {
		total *= l
	}
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
