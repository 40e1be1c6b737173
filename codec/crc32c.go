package codec

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/janelia-flyem/bfio/bio"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// crc32cCodec appends a little-endian CRC-32C checksum of the data.
type crc32cCodec struct{}

func (crc32cCodec) Name() string { return "crc32c" }

func (crc32cCodec) Encode(src []byte) ([]byte, error) {
	out := make([]byte, len(src)+4)
	copy(out, src)
	binary.LittleEndian.PutUint32(out[len(src):], crc32.Checksum(src, castagnoli))
	return out, nil
}

func (crc32cCodec) Decode(src []byte, size int) ([]byte, error) {
	if len(src) < 4 {
		return nil, bio.NewError(bio.CodeStoreIO, "crc32c chunk of %d bytes is too short", len(src))
	}
	data := src[:len(src)-4]
	stored := binary.LittleEndian.Uint32(src[len(src)-4:])
	if actual := crc32.Checksum(data, castagnoli); actual != stored {
		return nil, bio.NewError(bio.CodeStoreIO, "crc32c mismatch: stored %08x, computed %08x", stored, actual)
	}
	return checkSize("crc32c", data, size)
}
