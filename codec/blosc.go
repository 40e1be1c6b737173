package codec

import (
	"encoding/binary"

	"github.com/golang/snappy"

	"github.com/janelia-flyem/bfio/bio"
)

// Blosc frame constants.  A frame is a 16-byte header, a table of block start offsets
// and the compressed blocks.  Each block holds one or more splits, each prefixed by its
// int32 compressed size; a split whose compressed size equals its decoded size is stored
// uncompressed.
const (
	bloscHeaderSize  = 16
	bloscVersion     = 2
	bloscVersionLZ   = 1
	bloscMaxSplits   = 16
	bloscMinBuffer   = 128
	bloscMaxBlock    = 256 * 1024
	bloscDefaultLvl  = 5
	bloscByteShuffle = 0x1
	bloscMemcpyed    = 0x2
	bloscBitShuffle  = 0x4
	bloscDontSplit   = 0x10
)

// Compressor codes stored in bits 5-7 of the header flags.
const (
	bloscBloscLZ = 0
	bloscLZ4     = 1
	bloscSnappy  = 2
	bloscZlib    = 3
	bloscZstd    = 4
)

var bloscCompressors = map[string]uint8{
	"blosclz": bloscBloscLZ,
	"lz4":     bloscLZ4,
	"lz4hc":   bloscLZ4,
	"snappy":  bloscSnappy,
	"zlib":    bloscZlib,
	"zstd":    bloscZstd,
}

type bloscCodec struct {
	cname    string
	code     uint8
	level    int
	shuffle  int
	typeSize int
	inner    Codec
}

func newBlosc(spec Spec) (Codec, error) {
	cname := spec.CName
	if cname == "" {
		cname = "lz4"
	}
	code, found := bloscCompressors[cname]
	if !found {
		return nil, bio.NewError(bio.CodeUnsupportedFormat, "unsupported blosc compressor %q", cname)
	}
	if spec.Shuffle < 0 || spec.Shuffle > 2 {
		return nil, bio.NewError(bio.CodeInvalidInput, "bad blosc shuffle %d", spec.Shuffle)
	}
	c := &bloscCodec{
		cname:    cname,
		code:     code,
		level:    spec.Level,
		shuffle:  spec.Shuffle,
		typeSize: spec.TypeSize,
	}
	if c.level == 0 {
		c.level = bloscDefaultLvl
	}
	if c.typeSize < 1 || c.typeSize > 255 {
		c.typeSize = 1
	}
	var err error
	switch code {
	case bloscZlib:
		c.inner, err = newZlib(Spec{Level: c.level})
	case bloscZstd:
		c.inner, err = newZstd(Spec{Level: c.level})
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *bloscCodec) Name() string { return "blosc" }

func (c *bloscCodec) compressSplit(src []byte) ([]byte, error) {
	switch c.code {
	case bloscLZ4:
		buf := make([]byte, lz4BlockBound(len(src)))
		n, err := compressLZ4Block(src, buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	case bloscSnappy:
		return snappy.Encode(nil, src), nil
	case bloscZlib, bloscZstd:
		return c.inner.Encode(src)
	}
	return nil, bio.NewError(bio.CodeUnsupportedFormat, "cannot write blosc compressor %q", c.cname)
}

func decompressSplit(code uint8, src []byte, size int) ([]byte, error) {
	switch code {
	case bloscLZ4:
		return uncompressLZ4Block(src, size)
	case bloscSnappy:
		out, err := snappy.Decode(make([]byte, size), src)
		if err != nil {
			return nil, bio.WrapError(err, bio.CodeStoreIO, "bad blosc snappy block")
		}
		return out, nil
	case bloscZlib:
		return zlibCodec{}.Decode(src, size)
	case bloscZstd:
		zc, err := newZstd(Spec{})
		if err != nil {
			return nil, err
		}
		return zc.Decode(src, size)
	}
	return nil, bio.NewError(bio.CodeUnsupportedFormat, "unsupported blosc compressor code %d", code)
}

// Encode writes a blosc frame with one split per block.
func (c *bloscCodec) Encode(src []byte) ([]byte, error) {
	nbytes := len(src)
	blocksize := nbytes
	if blocksize > bloscMaxBlock {
		blocksize = bloscMaxBlock - bloscMaxBlock%c.typeSize
	}
	nblocks := 1
	if blocksize > 0 {
		nblocks = (nbytes + blocksize - 1) / blocksize
	}
	flags := uint8(bloscDontSplit) | c.code<<5
	if c.shuffle == 1 && c.typeSize > 1 {
		flags |= bloscByteShuffle
	}

	out := make([]byte, bloscHeaderSize+4*nblocks, bloscHeaderSize+4*nblocks+nbytes)
	for b := 0; b < nblocks && nbytes > 0; b++ {
		block := src[b*blocksize:]
		if len(block) > blocksize {
			block = block[:blocksize]
		}
		if flags&bloscByteShuffle != 0 {
			block = shuffle(block, c.typeSize)
		}
		binary.LittleEndian.PutUint32(out[bloscHeaderSize+4*b:], uint32(len(out)))
		comp, err := c.compressSplit(block)
		if err != nil {
			return nil, err
		}
		if len(comp) == 0 || len(comp) >= len(block) {
			comp = block
		}
		var csize [4]byte
		binary.LittleEndian.PutUint32(csize[:], uint32(len(comp)))
		out = append(out, csize[:]...)
		out = append(out, comp...)
	}

	// Fall back to a plain copy when compression does not pay.
	if len(out) >= bloscHeaderSize+nbytes {
		out = make([]byte, bloscHeaderSize+nbytes)
		copy(out[bloscHeaderSize:], src)
		flags = bloscMemcpyed | bloscDontSplit | c.code<<5
	}
	out[0] = bloscVersion
	out[1] = bloscVersionLZ
	out[2] = flags
	out[3] = uint8(c.typeSize)
	binary.LittleEndian.PutUint32(out[4:], uint32(nbytes))
	binary.LittleEndian.PutUint32(out[8:], uint32(blocksize))
	binary.LittleEndian.PutUint32(out[12:], uint32(len(out)))
	return out, nil
}

func (c *bloscCodec) Decode(src []byte, size int) ([]byte, error) {
	out, err := bloscDecode(src)
	if err != nil {
		return nil, err
	}
	return checkSize("blosc", out, size)
}

func bloscDecode(src []byte) ([]byte, error) {
	if len(src) < bloscHeaderSize {
		return nil, bio.NewError(bio.CodeStoreIO, "blosc frame of %d bytes is too short", len(src))
	}
	flags := src[2]
	typeSize := int(src[3])
	nbytes := int(binary.LittleEndian.Uint32(src[4:]))
	blocksize := int(binary.LittleEndian.Uint32(src[8:]))
	cbytes := int(binary.LittleEndian.Uint32(src[12:]))
	if cbytes > len(src) {
		return nil, bio.NewError(bio.CodeStoreIO, "blosc frame truncated: %d of %d bytes", len(src), cbytes)
	}
	if flags&bloscMemcpyed != 0 {
		if bloscHeaderSize+nbytes > len(src) {
			return nil, bio.NewError(bio.CodeStoreIO, "blosc copy frame truncated")
		}
		return append([]byte(nil), src[bloscHeaderSize:bloscHeaderSize+nbytes]...), nil
	}
	if flags&bloscBitShuffle != 0 && typeSize > 1 {
		return nil, bio.NewError(bio.CodeUnsupportedFormat, "blosc bit shuffle is not supported")
	}
	out := make([]byte, nbytes)
	if nbytes == 0 {
		return out, nil
	}
	if blocksize <= 0 {
		return nil, bio.NewError(bio.CodeStoreIO, "bad blosc block size %d", blocksize)
	}
	code := flags >> 5
	nblocks := (nbytes + blocksize - 1) / blocksize
	if bloscHeaderSize+4*nblocks > len(src) {
		return nil, bio.NewError(bio.CodeStoreIO, "blosc block table truncated")
	}
	for b := 0; b < nblocks; b++ {
		bstart := int(binary.LittleEndian.Uint32(src[bloscHeaderSize+4*b:]))
		dest := out[b*blocksize:]
		leftover := len(dest) < blocksize
		if !leftover {
			dest = dest[:blocksize]
		}
		nsplits := 1
		if flags&bloscDontSplit == 0 && typeSize <= bloscMaxSplits && typeSize > 0 &&
			blocksize/typeSize >= bloscMinBuffer && !leftover {
			nsplits = typeSize
		}
		splitSize := len(dest) / nsplits
		pos := bstart
		for s := 0; s < nsplits; s++ {
			if pos+4 > len(src) {
				return nil, bio.NewError(bio.CodeStoreIO, "blosc block %d truncated", b)
			}
			csize := int(binary.LittleEndian.Uint32(src[pos:]))
			pos += 4
			if pos+csize > len(src) {
				return nil, bio.NewError(bio.CodeStoreIO, "blosc block %d truncated", b)
			}
			part := dest[s*splitSize : (s+1)*splitSize]
			if csize == splitSize {
				copy(part, src[pos:pos+csize])
			} else {
				dec, err := decompressSplit(code, src[pos:pos+csize], splitSize)
				if err != nil {
					return nil, err
				}
				if len(dec) != splitSize {
					return nil, bio.NewError(bio.CodeStoreIO, "blosc split decoded %d bytes, expected %d",
						len(dec), splitSize)
				}
				copy(part, dec)
			}
			pos += csize
		}
		if flags&bloscByteShuffle != 0 && typeSize > 1 {
			copy(dest, unshuffle(dest, typeSize))
		}
	}
	return out, nil
}

// shuffle groups the i-th byte of every element together.  Trailing bytes that do not
// form a whole element are left in place.
func shuffle(src []byte, typeSize int) []byte {
	out := make([]byte, len(src))
	n := len(src) / typeSize
	for i := 0; i < n; i++ {
		for j := 0; j < typeSize; j++ {
			out[j*n+i] = src[i*typeSize+j]
		}
	}
	copy(out[n*typeSize:], src[n*typeSize:])
	return out
}

func unshuffle(src []byte, typeSize int) []byte {
	out := make([]byte, len(src))
	n := len(src) / typeSize
	for i := 0; i < n; i++ {
		for j := 0; j < typeSize; j++ {
			out[i*typeSize+j] = src[j*n+i]
		}
	}
	copy(out[n*typeSize:], src[n*typeSize:])
	return out
}
