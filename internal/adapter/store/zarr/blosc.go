package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// Blosc 1.x frame layout.
const (
	bloscHeaderSize = 16
	bloscMaxSplits  = 16
	bloscMinBuffer  = 128

	bloscDoShuffle    = 0x01
	bloscMemcpyed     = 0x02
	bloscDoBitshuffle = 0x04
	bloscDontSplit    = 0x10
)

// Blosc internal compressor formats, from bits 5-7 of the flags byte.
const (
	bloscFormatBloscLZ = iota
	bloscFormatLZ4
	bloscFormatSnappy
	bloscFormatZlib
	bloscFormatZstd
)

type bloscHeader struct {
	flags     byte
	typesize  int
	nbytes    int
	blocksize int
	cbytes    int
}

func parseBloscHeader(in []byte) (bloscHeader, error) {
	if len(in) < bloscHeaderSize {
		return bloscHeader{}, fmt.Errorf("blosc: short header (%d bytes)", len(in))
	}
	h := bloscHeader{
		flags:     in[2],
		typesize:  int(in[3]),
		nbytes:    int(binary.LittleEndian.Uint32(in[4:])),
		blocksize: int(binary.LittleEndian.Uint32(in[8:])),
		cbytes:    int(binary.LittleEndian.Uint32(in[12:])),
	}
	if h.cbytes > len(in) {
		return bloscHeader{}, fmt.Errorf("blosc: frame claims %d bytes, have %d", h.cbytes, len(in))
	}
	if h.typesize == 0 {
		h.typesize = 1
	}
	return h, nil
}

// decodeBlosc decompresses a Blosc 1.x frame.
func decodeBlosc(in []byte, _ int) ([]byte, error) {
	h, err := parseBloscHeader(in)
	if err != nil {
		return nil, err
	}
	if h.flags&bloscMemcpyed != 0 {
		if bloscHeaderSize+h.nbytes > len(in) {
			return nil, fmt.Errorf("blosc: memcpyed frame truncated")
		}
		return append([]byte(nil), in[bloscHeaderSize:bloscHeaderSize+h.nbytes]...), nil
	}
	if h.flags&bloscDoBitshuffle != 0 {
		return nil, fmt.Errorf("blosc: bitshuffle is not supported")
	}
	if h.nbytes == 0 {
		return []byte{}, nil
	}
	if h.blocksize <= 0 {
		return nil, fmt.Errorf("blosc: invalid blocksize %d", h.blocksize)
	}
	format := int(h.flags&0xe0) >> 5

	nblocks := h.nbytes / h.blocksize
	leftover := h.nbytes % h.blocksize
	if leftover > 0 {
		nblocks++
	}
	if bloscHeaderSize+4*nblocks > len(in) {
		return nil, fmt.Errorf("blosc: block table truncated")
	}

	out := make([]byte, h.nbytes)
	tmp := make([]byte, h.blocksize)
	for j := 0; j < nblocks; j++ {
		bsize := h.blocksize
		last := j == nblocks-1 && leftover > 0
		if last {
			bsize = leftover
		}
		start := int(binary.LittleEndian.Uint32(in[bloscHeaderSize+4*j:]))
		dst := out[j*h.blocksize : j*h.blocksize+bsize]
		shuffled := h.flags&bloscDoShuffle != 0 && h.typesize > 1
		target := dst
		if shuffled {
			target = tmp[:bsize]
		}
		if err := decodeBloscBlock(in, start, target, h, format, last); err != nil {
			return nil, fmt.Errorf("blosc: block %d: %w", j, err)
		}
		if shuffled {
			unshuffle(dst, target, h.typesize)
		}
	}
	return out, nil
}

func decodeBloscBlock(in []byte, start int, dst []byte, h bloscHeader, format int, leftover bool) error {
	nsplits := 1
	if h.flags&bloscDontSplit == 0 && !leftover &&
		h.typesize <= bloscMaxSplits && h.blocksize/h.typesize >= bloscMinBuffer {
		nsplits = h.typesize
	}
	neblock := len(dst) / nsplits
	pos := start
	for s := 0; s < nsplits; s++ {
		if pos+4 > len(in) {
			return fmt.Errorf("split %d header truncated", s)
		}
		cbytes := int(int32(binary.LittleEndian.Uint32(in[pos:])))
		pos += 4
		if cbytes < 0 || pos+cbytes > len(in) {
			return fmt.Errorf("split %d claims %d bytes", s, cbytes)
		}
		src := in[pos : pos+cbytes]
		part := dst[s*neblock : (s+1)*neblock]
		pos += cbytes
		if cbytes == neblock {
			copy(part, src)
			continue
		}
		if err := decodeBloscSplit(format, src, part); err != nil {
			return fmt.Errorf("split %d: %w", s, err)
		}
	}
	return nil
}

func decodeBloscSplit(format int, src, dst []byte) error {
	var n int
	switch format {
	case bloscFormatLZ4:
		got, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return fmt.Errorf("lz4: %w", err)
		}
		n = got
	case bloscFormatSnappy:
		got, err := snappy.Decode(nil, src)
		if err != nil {
			return fmt.Errorf("snappy: %w", err)
		}
		n = copy(dst, got)
	case bloscFormatZlib:
		r, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return fmt.Errorf("zlib: %w", err)
		}
		defer r.Close()
		got, err := io.ReadFull(r, dst)
		if err != nil {
			return fmt.Errorf("zlib: %w", err)
		}
		n = got
	case bloscFormatZstd:
		got, err := zstdDecoder.DecodeAll(src, make([]byte, 0, len(dst)))
		if err != nil {
			return fmt.Errorf("zstd: %w", err)
		}
		n = copy(dst, got)
	case bloscFormatBloscLZ:
		return fmt.Errorf("blosclz is not supported")
	default:
		return fmt.Errorf("unknown compressor format %d", format)
	}
	if n != len(dst) {
		return fmt.Errorf("decoded %d bytes, want %d", n, len(dst))
	}
	return nil
}

// unshuffle reverses the Blosc byte shuffle of src into dst. Trailing bytes
// that do not fill a whole element are stored unshuffled.
func unshuffle(dst, src []byte, typesize int) {
	n := len(src) / typesize
	for j := 0; j < typesize; j++ {
		for i := 0; i < n; i++ {
			dst[i*typesize+j] = src[j*n+i]
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
}
