package tiff

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/tiff/lzw"

	"github.com/janelia-flyem/bfio/bio"
)

// Compression schemes.
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionPackBits   = 32773
	compressionDeflateOld = 32946
	compressionZstd       = 50000
)

const (
	predictorNone       = 1
	predictorHorizontal = 2
)

var zstdDecoder, _ = zstd.NewReader(nil)

// decompress returns the decoded bytes of one tile or strip.  The result may be shorter
// than size for a final strip.
func decompress(scheme uint64, src []byte, size int) ([]byte, error) {
	switch scheme {
	case compressionNone:
		return src, nil
	case compressionLZW:
		r := lzw.NewReader(bytes.NewReader(src), lzw.MSB, 8)
		defer r.Close()
		return readUpTo(r, size)
	case compressionDeflate, compressionDeflateOld:
		r, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return readUpTo(r, size)
	case compressionPackBits:
		return unpackBits(src, size)
	case compressionZstd:
		return zstdDecoder.DecodeAll(src, make([]byte, 0, size))
	}
	return nil, bio.NewError(bio.CodeUnsupportedFormat, "unsupported TIFF compression %d", scheme)
}

// readUpTo reads at most size bytes.  Some writers pad compressed streams, so reading
// stops at size rather than requiring EOF.
func readUpTo(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	n, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func unpackBits(src []byte, size int) ([]byte, error) {
	out := make([]byte, 0, size)
	for i := 0; i < len(src) && len(out) < size; {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(src) {
				return nil, bio.NewError(bio.CodeStoreIO, "truncated PackBits literal run")
			}
			out = append(out, src[i:i+n+1]...)
			i += n + 1
		case n != -128:
			if i >= len(src) {
				return nil, bio.NewError(bio.CodeStoreIO, "truncated PackBits repeat run")
			}
			for j := 0; j < 1-n; j++ {
				out = append(out, src[i])
			}
			i++
		}
	}
	return out, nil
}

// swapToLittle converts big-endian elements of width bytes to little-endian in place.
func swapToLittle(data []byte, width int) {
	if width == 1 {
		return
	}
	for i := 0; i+width <= len(data); i += width {
		for lo, hi := i, i+width-1; lo < hi; lo, hi = lo+1, hi-1 {
			data[lo], data[hi] = data[hi], data[lo]
		}
	}
}

// undoHorizontal reverses horizontal differencing on little-endian data laid out as
// rows of width pixels with samples interleaved samples each.
func undoHorizontal(data []byte, width, samples, bytesPer int) {
	rowBytes := width * samples * bytesPer
	stride := samples * bytesPer
	for row := 0; row+rowBytes <= len(data); row += rowBytes {
		line := data[row : row+rowBytes]
		for i := stride; i < len(line); i += bytesPer {
			prev := i - stride
			switch bytesPer {
			case 1:
				line[i] += line[prev]
			case 2:
				v := binary.LittleEndian.Uint16(line[i:]) + binary.LittleEndian.Uint16(line[prev:])
				binary.LittleEndian.PutUint16(line[i:], v)
			case 4:
				v := binary.LittleEndian.Uint32(line[i:]) + binary.LittleEndian.Uint32(line[prev:])
				binary.LittleEndian.PutUint32(line[i:], v)
			case 8:
				v := binary.LittleEndian.Uint64(line[i:]) + binary.LittleEndian.Uint64(line[prev:])
				binary.LittleEndian.PutUint64(line[i:], v)
			}
		}
	}
}

// deinterleave converts (y, x, sample) data to (sample, y, x) planes.
func deinterleave(data []byte, pixels, samples, bytesPer int) []byte {
	out := make([]byte, len(data))
	plane := pixels * bytesPer
	for p := 0; p < pixels; p++ {
		for s := 0; s < samples; s++ {
			src := (p*samples + s) * bytesPer
			copy(out[s*plane+p*bytesPer:], data[src:src+bytesPer])
		}
	}
	return out
}
