// Package zarr reads Zarr v2 groups held in blob storage and exposes their
// arrays as lazy dataset variables.
package zarr

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ArrayMetadata represents the Zarr v2 .zarray document.
type ArrayMetadata struct {
	ZarrFormat         int             `json:"zarr_format"`
	Shape              []int           `json:"shape"`
	Chunks             []int           `json:"chunks"`
	DType              json.RawMessage `json:"dtype"`
	Compressor         CodecConfig     `json:"compressor"`
	FillValue          json.RawMessage `json:"fill_value"`
	Order              string          `json:"order"`
	Filters            []CodecConfig   `json:"filters"`
	DimensionSeparator string          `json:"dimension_separator,omitempty"`
}

// CodecConfig is a numcodecs codec configuration such as
// {"id": "blosc", "cname": "zstd", "clevel": 5, "shuffle": 1}.
type CodecConfig map[string]any

// ID returns the codec identifier.
func (c CodecConfig) ID() string {
	s, _ := c["id"].(string)
	return s
}

// String returns a string-valued codec parameter.
func (c CodecConfig) String(key string) string {
	s, _ := c[key].(string)
	return s
}

func (m *ArrayMetadata) validate() error {
	if m.ZarrFormat != 2 {
		return fmt.Errorf("unsupported zarr_format %d", m.ZarrFormat)
	}
	if len(m.Shape) != len(m.Chunks) {
		return fmt.Errorf("shape %v and chunks %v differ in rank", m.Shape, m.Chunks)
	}
	for d, c := range m.Chunks {
		if c <= 0 {
			return fmt.Errorf("chunk extent %d on axis %d", c, d)
		}
		if m.Shape[d] < 0 {
			return fmt.Errorf("negative extent %d on axis %d", m.Shape[d], d)
		}
	}
	switch m.Order {
	case "C", "F":
	default:
		return fmt.Errorf("unsupported order %q", m.Order)
	}
	switch m.DimensionSeparator {
	case "", ".", "/":
	default:
		return fmt.Errorf("unsupported dimension_separator %q", m.DimensionSeparator)
	}
	return nil
}

func (m *ArrayMetadata) separator() string {
	if m.DimensionSeparator == "" {
		return "."
	}
	return m.DimensionSeparator
}

// dtypeKind classifies element encodings.
type dtypeKind byte

const (
	kindBool    dtypeKind = 'b'
	kindInt     dtypeKind = 'i'
	kindUint    dtypeKind = 'u'
	kindFloat   dtypeKind = 'f'
	kindBytes   dtypeKind = 'S'
	kindUnicode dtypeKind = 'U'
	kindObject  dtypeKind = 'O'
)

// dtype is a parsed NumPy type string such as "<f4" or "|S8".
type dtype struct {
	kind  dtypeKind
	size  int
	order binary.ByteOrder
}

// parseDType parses a Zarr dtype string into its kind, item size and byte order.
func parseDType(raw json.RawMessage) (dtype, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return dtype{}, fmt.Errorf("unsupported structured dtype %s", raw)
	}
	if len(s) < 2 {
		return dtype{}, fmt.Errorf("invalid dtype: %s", s)
	}
	var order binary.ByteOrder = binary.LittleEndian
	switch s[0] {
	case '<', '|':
	case '>':
		order = binary.BigEndian
	default:
		return dtype{}, fmt.Errorf("invalid dtype byte order: %s", s)
	}
	kind := dtypeKind(s[1])
	size := 0
	if len(s) > 2 {
		n, err := strconv.Atoi(s[2:])
		if err != nil {
			return dtype{}, fmt.Errorf("invalid dtype size: %s", s)
		}
		size = n
	}
	switch kind {
	case kindBool:
		if size != 1 {
			return dtype{}, fmt.Errorf("unsupported or unknown dtype: %s", s)
		}
	case kindInt, kindUint:
		if size != 1 && size != 2 && size != 4 && size != 8 {
			return dtype{}, fmt.Errorf("unsupported or unknown dtype: %s", s)
		}
	case kindFloat:
		if size != 4 && size != 8 {
			return dtype{}, fmt.Errorf("unsupported or unknown dtype: %s", s)
		}
	case kindBytes:
		if size <= 0 {
			return dtype{}, fmt.Errorf("unsupported or unknown dtype: %s", s)
		}
	case kindUnicode:
		if size <= 0 {
			return dtype{}, fmt.Errorf("unsupported or unknown dtype: %s", s)
		}
		size *= 4
	case kindObject:
		size = 0
	default:
		return dtype{}, fmt.Errorf("unsupported or unknown dtype: %s", s)
	}
	return dtype{kind: kind, size: size, order: order}, nil
}

func (t dtype) numeric() bool {
	switch t.kind {
	case kindBool, kindInt, kindUint, kindFloat:
		return true
	}
	return false
}

// float decodes the numeric element starting at b.
func (t dtype) float(b []byte) float64 {
	switch t.kind {
	case kindBool:
		if b[0] != 0 {
			return 1
		}
		return 0
	case kindInt:
		switch t.size {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(t.order.Uint16(b)))
		case 4:
			return float64(int32(t.order.Uint32(b)))
		default:
			return float64(int64(t.order.Uint64(b)))
		}
	case kindUint:
		switch t.size {
		case 1:
			return float64(b[0])
		case 2:
			return float64(t.order.Uint16(b))
		case 4:
			return float64(t.order.Uint32(b))
		default:
			return float64(t.order.Uint64(b))
		}
	default:
		if t.size == 4 {
			return float64(math.Float32frombits(t.order.Uint32(b)))
		}
		return math.Float64frombits(t.order.Uint64(b))
	}
}

// text decodes the fixed-width string element starting at b.
func (t dtype) text(b []byte) string {
	b = b[:t.size]
	if t.kind == kindBytes {
		return strings.TrimRight(string(b), "\x00")
	}
	var sb strings.Builder
	for i := 0; i+4 <= len(b); i += 4 {
		r := rune(t.order.Uint32(b[i:]))
		if r == 0 {
			break
		}
		if !utf8.ValidRune(r) {
			r = utf8.RuneError
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// fillValue is the decoded array fill value. present is false for a null
// fill value.
type fillValue struct {
	present bool
	number  float64
	text    string
}

func parseFillValue(raw json.RawMessage, t dtype) (fillValue, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return fillValue{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fillValue{}, fmt.Errorf("invalid fill_value %s: %w", raw, err)
	}
	switch x := v.(type) {
	case bool:
		if x {
			return fillValue{present: true, number: 1}, nil
		}
		return fillValue{present: true}, nil
	case float64:
		return fillValue{present: true, number: x}, nil
	case string:
		switch x {
		case "NaN":
			return fillValue{present: true, number: math.NaN()}, nil
		case "Infinity":
			return fillValue{present: true, number: math.Inf(1)}, nil
		case "-Infinity":
			return fillValue{present: true, number: math.Inf(-1)}, nil
		}
		if t.numeric() {
			return fillValue{}, fmt.Errorf("invalid numeric fill_value %q", x)
		}
		if t.kind == kindBytes {
			b, err := base64.StdEncoding.DecodeString(x)
			if err != nil {
				return fillValue{}, fmt.Errorf("invalid fill_value %q: %w", x, err)
			}
			return fillValue{present: true, text: strings.TrimRight(string(b), "\x00")}, nil
		}
		return fillValue{present: true, text: x}, nil
	}
	return fillValue{}, fmt.Errorf("unsupported fill_value %s", raw)
}
