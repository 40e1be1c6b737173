package tiff

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/storage"
)

// TIFF tags used by the reader and writer.
const (
	tagNewSubfileType      = 254
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagImageDescription    = 270
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339
)

// Field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
	dtLong8     = 16
	dtSLong8    = 17
	dtIFD8      = 18
)

var typeSizes = map[uint16]int{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8, dtSByte: 1, dtUndefined: 1,
	dtSShort: 2, dtSLong: 4, dtSRational: 8, dtFloat: 4, dtDouble: 8, dtLong8: 8, dtSLong8: 8, dtIFD8: 8,
}

// Signatures of classic and BigTIFF files in both byte orders.
var signatures = [][]byte{
	{'I', 'I', 42, 0},
	{'M', 'M', 0, 42},
	{'I', 'I', 43, 0},
	{'M', 'M', 0, 43},
}

// IsTIFF returns true if header starts with a TIFF or BigTIFF signature.
func IsTIFF(header []byte) bool {
	if len(header) < 4 {
		return false
	}
	for _, sig := range signatures {
		if string(header[:4]) == string(sig) {
			return true
		}
	}
	return false
}

// ifd is one parsed image file directory, keeping only numeric and ASCII fields.
type ifd struct {
	offset  int64
	fields  map[uint16][]uint64
	strings map[uint16]string
}

func (d *ifd) value(tag uint16, dflt uint64) uint64 {
	if v, found := d.fields[tag]; found && len(v) > 0 {
		return v[0]
	}
	return dflt
}

func (d *ifd) values(tag uint16) []uint64 {
	return d.fields[tag]
}

// parser walks the directory chain of a TIFF object using range reads.
type parser struct {
	store  storage.Store
	key    string
	order  binary.ByteOrder
	big    bool
	header []byte
}

func newParser(ctx context.Context, store storage.Store, key string) (*parser, int64, error) {
	header, err := store.GetRange(ctx, key, 0, 16).Wait(ctx)
	if err != nil {
		return nil, 0, err
	}
	if header == nil {
		return nil, 0, bio.NewError(bio.CodeStoreIO, "no TIFF %q in %s", key, store)
	}
	if !IsTIFF(header) {
		return nil, 0, bio.NewError(bio.CodeUnsupportedFormat, "%q in %s is not a TIFF file", key, store)
	}
	p := &parser{store: store, key: key, header: header}
	if header[0] == 'I' {
		p.order = binary.LittleEndian
	} else {
		p.order = binary.BigEndian
	}
	var first int64
	if p.order.Uint16(header[2:4]) == 43 {
		if len(header) < 16 || p.order.Uint16(header[4:6]) != 8 {
			return nil, 0, bio.NewError(bio.CodeUnsupportedFormat, "bad BigTIFF header in %q", key)
		}
		p.big = true
		first = int64(p.order.Uint64(header[8:16]))
	} else {
		if len(header) < 8 {
			return nil, 0, bio.NewError(bio.CodeUnsupportedFormat, "truncated TIFF header in %q", key)
		}
		first = int64(p.order.Uint32(header[4:8]))
	}
	return p, first, nil
}

func (p *parser) read(ctx context.Context, offset, length int64) ([]byte, error) {
	data, err := p.store.GetRange(ctx, p.key, offset, length).Wait(ctx)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != length {
		return nil, bio.NewError(bio.CodeStoreIO, "short read of %d bytes at %d in %q", length, offset, p.key)
	}
	return data, nil
}

// readIFDs returns every directory in the main chain.
func (p *parser) readIFDs(ctx context.Context, first int64) ([]*ifd, error) {
	var ifds []*ifd
	seen := make(map[int64]bool)
	for offset := first; offset != 0; {
		if seen[offset] {
			return nil, bio.NewError(bio.CodeUnsupportedFormat, "IFD loop at offset %d in %q", offset, p.key)
		}
		seen[offset] = true
		d, next, err := p.readIFD(ctx, offset)
		if err != nil {
			return nil, err
		}
		ifds = append(ifds, d)
		offset = next
	}
	return ifds, nil
}

func (p *parser) readIFD(ctx context.Context, offset int64) (*ifd, int64, error) {
	countSize, entrySize, offSize := int64(2), int64(12), int64(4)
	if p.big {
		countSize, entrySize, offSize = 8, 20, 8
	}
	buf, err := p.read(ctx, offset, countSize)
	if err != nil {
		return nil, 0, err
	}
	var n int64
	if p.big {
		n = int64(p.order.Uint64(buf))
	} else {
		n = int64(p.order.Uint16(buf))
	}
	buf, err = p.read(ctx, offset+countSize, n*entrySize+offSize)
	if err != nil {
		return nil, 0, err
	}
	d := &ifd{
		offset:  offset,
		fields:  make(map[uint16][]uint64),
		strings: make(map[uint16]string),
	}
	for i := int64(0); i < n; i++ {
		entry := buf[i*entrySize : (i+1)*entrySize]
		if err := p.parseEntry(ctx, d, entry); err != nil {
			return nil, 0, err
		}
	}
	tail := buf[n*entrySize:]
	var next int64
	if p.big {
		next = int64(p.order.Uint64(tail))
	} else {
		next = int64(p.order.Uint32(tail))
	}
	return d, next, nil
}

func (p *parser) parseEntry(ctx context.Context, d *ifd, entry []byte) error {
	tag := p.order.Uint16(entry[0:2])
	typ := p.order.Uint16(entry[2:4])
	size, known := typeSizes[typ]
	if !known {
		return nil
	}
	var count int64
	var inline []byte
	if p.big {
		count = int64(p.order.Uint64(entry[4:12]))
		inline = entry[12:20]
	} else {
		count = int64(p.order.Uint32(entry[4:8]))
		inline = entry[8:12]
	}
	nbytes := count * int64(size)
	raw := inline
	if nbytes > int64(len(inline)) {
		var off int64
		if p.big {
			off = int64(p.order.Uint64(inline))
		} else {
			off = int64(p.order.Uint32(inline))
		}
		var err error
		if raw, err = p.read(ctx, off, nbytes); err != nil {
			return err
		}
	}
	raw = raw[:nbytes]

	switch typ {
	case dtASCII:
		s := string(raw)
		for len(s) > 0 && s[len(s)-1] == 0 {
			s = s[:len(s)-1]
		}
		d.strings[tag] = s
	case dtByte, dtUndefined, dtSByte:
		vals := make([]uint64, count)
		for i := range vals {
			vals[i] = uint64(raw[i])
		}
		d.fields[tag] = vals
	case dtShort, dtSShort:
		vals := make([]uint64, count)
		for i := range vals {
			vals[i] = uint64(p.order.Uint16(raw[2*i:]))
		}
		d.fields[tag] = vals
	case dtLong, dtSLong:
		vals := make([]uint64, count)
		for i := range vals {
			vals[i] = uint64(p.order.Uint32(raw[4*i:]))
		}
		d.fields[tag] = vals
	case dtLong8, dtSLong8, dtIFD8:
		vals := make([]uint64, count)
		for i := range vals {
			vals[i] = p.order.Uint64(raw[8*i:])
		}
		d.fields[tag] = vals
	}
	return nil
}

func (d *ifd) String() string {
	return fmt.Sprintf("IFD @ %d: %dx%d", d.offset, d.value(tagImageWidth, 0), d.value(tagImageLength, 0))
}
