package codec

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"

	"github.com/janelia-flyem/bfio/bio"
)

// lz4Codec is an lz4 block prefixed by the little-endian uint32 decoded size, the
// layout numcodecs uses for its "lz4" compressor.
type lz4Codec struct{}

func newLZ4(Spec) (Codec, error) {
	return lz4Codec{}, nil
}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Encode(src []byte) ([]byte, error) {
	out := make([]byte, 4+lz4.CompressBlockBound(len(src)))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(src)))
	n, err := compressLZ4Block(src, out[4:])
	if err != nil {
		return nil, err
	}
	return out[:4+n], nil
}

func (lz4Codec) Decode(src []byte, size int) ([]byte, error) {
	if len(src) < 4 {
		return nil, bio.NewError(bio.CodeStoreIO, "lz4 chunk of %d bytes is too short", len(src))
	}
	origSize := int(binary.LittleEndian.Uint32(src[0:4]))
	out, err := uncompressLZ4Block(src[4:], origSize)
	if err != nil {
		return nil, err
	}
	return checkSize("lz4", out, size)
}

// compressLZ4Block writes a raw lz4 block into dst, which must hold at least
// lz4.CompressBlockBound(len(src)) bytes.
func compressLZ4Block(src, dst []byte) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(src, dst, ht[:])
	if err != nil {
		return 0, bio.WrapError(err, bio.CodeStoreIO, "lz4 compression")
	}
	return n, nil
}

func uncompressLZ4Block(src []byte, size int) ([]byte, error) {
	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}
	n, err := lz4.UncompressBlock(src, out)
	if err != nil {
		return nil, bio.WrapError(err, bio.CodeStoreIO, "bad lz4 block")
	}
	return out[:n], nil
}

func lz4BlockBound(n int) int {
	return lz4.CompressBlockBound(n)
}
