package zarr

import (
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// decompressor inverts a numcodecs compressor. size is the expected decoded
// length in bytes, or 0 when unknown.
type decompressor func(in []byte, size int) ([]byte, error)

// zstdDecoder is shared; DecodeAll is safe for concurrent use.
var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

func newDecompressor(cfg CodecConfig) (decompressor, error) {
	if cfg == nil {
		return func(in []byte, _ int) ([]byte, error) { return in, nil }, nil
	}
	switch id := cfg.ID(); id {
	case "blosc":
		return decodeBlosc, nil
	case "zstd":
		return decodeZstd, nil
	case "zlib":
		return func(in []byte, size int) ([]byte, error) {
			r, err := zlib.NewReader(bytes.NewReader(in))
			if err != nil {
				return nil, fmt.Errorf("zlib: %w", err)
			}
			defer r.Close()
			return readSized(r, size, "zlib")
		}, nil
	case "gzip":
		return func(in []byte, size int) ([]byte, error) {
			r, err := gzip.NewReader(bytes.NewReader(in))
			if err != nil {
				return nil, fmt.Errorf("gzip: %w", err)
			}
			defer r.Close()
			return readSized(r, size, "gzip")
		}, nil
	case "bz2":
		return func(in []byte, size int) ([]byte, error) {
			return readSized(bzip2.NewReader(bytes.NewReader(in)), size, "bz2")
		}, nil
	case "lz4":
		return decodeLZ4, nil
	default:
		return nil, fmt.Errorf("unsupported compressor %q", id)
	}
}

func decodeZstd(in []byte, size int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(in, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}

// decodeLZ4 reads the numcodecs LZ4 framing: a little-endian uint32 decoded
// size followed by one LZ4 block.
func decodeLZ4(in []byte, _ int) ([]byte, error) {
	if len(in) < 4 {
		return nil, fmt.Errorf("lz4: short buffer (%d bytes)", len(in))
	}
	n := int(binary.LittleEndian.Uint32(in))
	out := make([]byte, n)
	got, err := lz4.UncompressBlock(in[4:], out)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	if got != n {
		return nil, fmt.Errorf("lz4: decoded %d bytes, header says %d", got, n)
	}
	return out, nil
}

func readSized(r io.Reader, size int, name string) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// filter inverts a numcodecs filter.
type filter func(in []byte) ([]byte, []string, error)

// newFilters returns the decoding filters in application order (reverse of
// the declared encoding order).
func newFilters(cfgs []CodecConfig) ([]filter, error) {
	out := make([]filter, 0, len(cfgs))
	for i := len(cfgs) - 1; i >= 0; i-- {
		switch id := cfgs[i].ID(); id {
		case "vlen-utf8":
			out = append(out, decodeVLenUTF8)
		default:
			return nil, fmt.Errorf("unsupported filter %q", id)
		}
	}
	return out, nil
}

// decodeVLenUTF8 reads the numcodecs VLenUTF8 layout: a uint32 item count
// followed by uint32 length-prefixed UTF-8 items.
func decodeVLenUTF8(in []byte) ([]byte, []string, error) {
	if len(in) < 4 {
		return nil, nil, fmt.Errorf("vlen-utf8: short buffer (%d bytes)", len(in))
	}
	n := int(binary.LittleEndian.Uint32(in))
	items := make([]string, 0, n)
	pos := 4
	for i := 0; i < n; i++ {
		if pos+4 > len(in) {
			return nil, nil, fmt.Errorf("vlen-utf8: truncated at item %d", i)
		}
		l := int(binary.LittleEndian.Uint32(in[pos:]))
		pos += 4
		if pos+l > len(in) {
			return nil, nil, fmt.Errorf("vlen-utf8: truncated at item %d", i)
		}
		items = append(items, string(in[pos:pos+l]))
		pos += l
	}
	return nil, items, nil
}
