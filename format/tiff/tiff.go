/*
Package tiff reads tiled and stripped TIFF and BigTIFF images chunk by chunk, and writes
tiled TIFFs on a best-effort basis.  Each page is one (T, C, Z) plane; a JSON image
description of the form {"shape": [...], "axes": "..."} on the first page assigns pages
to T, C and Z, otherwise every page is a Z layer.  Multi-sample pixels are channels.
*/
package tiff

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/storage"
)

// Reader is a TIFF opened for chunked reads.
type Reader struct {
	desc  *bio.ImageDescriptor
	store storage.Store
	key   string
	big   bool

	pages []*ifd

	// page index strides for t, c and z
	pageStride [3]int64

	width, height     int64
	tileW, tileH      int64
	tilesAcross       int64
	tilesDown         int64
	samples           int64
	planar            bool
	bytesPer          int
	compression       uint64
	predictor         uint64
	offsetTag, cntTag uint16
	bigEndian         bool
}

// Open parses the directories of the TIFF at location.
func Open(ctx context.Context, location string, config storage.Config) (*Reader, error) {
	dir, key := storage.Split(location)
	config.Create = false
	store, err := storage.Open(ctx, dir, config)
	if err != nil {
		return nil, err
	}
	r, err := open(ctx, store, key)
	if err != nil {
		store.Close()
		return nil, err
	}
	bio.Debugf("Opened TIFF %s: %s\n", location, r.desc)
	return r, nil
}

func open(ctx context.Context, store storage.Store, key string) (*Reader, error) {
	p, first, err := newParser(ctx, store, key)
	if err != nil {
		return nil, err
	}
	all, err := p.readIFDs(ctx, first)
	if err != nil {
		return nil, err
	}
	r := &Reader{store: store, key: key, big: p.big, bigEndian: p.order == binary.BigEndian}
	// Reduced-resolution pages are skipped.
	for _, d := range all {
		if d.value(tagNewSubfileType, 0)&1 == 0 {
			r.pages = append(r.pages, d)
		}
	}
	if len(r.pages) == 0 {
		return nil, bio.NewError(bio.CodeUnsupportedFormat, "TIFF %q has no full-resolution pages", key)
	}
	if err := r.parseLayout(r.pages[0]); err != nil {
		return nil, err
	}
	for i, d := range r.pages[1:] {
		if d.value(tagImageWidth, 0) != uint64(r.width) || d.value(tagImageLength, 0) != uint64(r.height) {
			return nil, bio.NewError(bio.CodeUnsupportedFormat, "TIFF page %d has different size than first page", i+1)
		}
	}

	t, c, z := r.mapPages(r.pages[0].strings[tagImageDescription])
	if r.samples > 1 {
		c = r.samples
	}
	chunkC := int64(1)
	if r.samples > 1 && !r.planar {
		chunkC = r.samples
	}
	chunkH, chunkW := r.tileH, r.tileW
	if chunkH > r.height {
		chunkH = r.height
	}
	if chunkW > r.width {
		chunkW = r.width
	}
	desc, err := bio.NewImageDescriptor(bio.MustAxisOrder("TCZYX"),
		[]int64{t, c, z, r.height, r.width}, []int64{1, chunkC, 1, chunkH, chunkW}, r.dtype())
	if err != nil {
		return nil, err
	}
	desc.Kind = bio.OmeTiff
	desc.Compressor = compressionName(r.compression)
	r.desc = desc
	return r, nil
}

func (r *Reader) dtype() bio.DataType {
	d := r.pages[0]
	format := d.value(tagSampleFormat, 1)
	switch r.bytesPer {
	case 1:
		if format == 2 {
			return bio.T_int8
		}
		return bio.T_uint8
	case 2:
		if format == 2 {
			return bio.T_int16
		}
		return bio.T_uint16
	case 4:
		switch format {
		case 2:
			return bio.T_int32
		case 3:
			return bio.T_float32
		}
		return bio.T_uint32
	default:
		switch format {
		case 2:
			return bio.T_int64
		case 3:
			return bio.T_float64
		}
		return bio.T_uint64
	}
}

func (r *Reader) parseLayout(d *ifd) error {
	r.width = int64(d.value(tagImageWidth, 0))
	r.height = int64(d.value(tagImageLength, 0))
	if r.width == 0 || r.height == 0 {
		return bio.NewError(bio.CodeUnsupportedFormat, "TIFF %q has no image dimensions", r.key)
	}
	r.samples = int64(d.value(tagSamplesPerPixel, 1))
	r.planar = d.value(tagPlanarConfiguration, 1) == 2
	bits := d.value(tagBitsPerSample, 1)
	for _, b := range d.values(tagBitsPerSample) {
		if b != bits {
			return bio.NewError(bio.CodeUnsupportedFormat, "TIFF samples with mixed bit depths")
		}
	}
	switch bits {
	case 8, 16, 32, 64:
		r.bytesPer = int(bits / 8)
	default:
		return bio.NewError(bio.CodeUnsupportedFormat, "unsupported TIFF bit depth %d", bits)
	}
	if format := d.value(tagSampleFormat, 1); format == 3 && bits < 32 {
		return bio.NewError(bio.CodeUnsupportedFormat, "unsupported %d-bit float TIFF", bits)
	}
	r.compression = d.value(tagCompression, compressionNone)
	switch r.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld,
		compressionPackBits, compressionZstd:
	default:
		return bio.NewError(bio.CodeUnsupportedFormat, "unsupported TIFF compression %d", r.compression)
	}
	r.predictor = d.value(tagPredictor, predictorNone)
	if r.predictor != predictorNone && r.predictor != predictorHorizontal {
		return bio.NewError(bio.CodeUnsupportedFormat, "unsupported TIFF predictor %d", r.predictor)
	}
	if _, tiled := d.fields[tagTileOffsets]; tiled {
		r.tileW = int64(d.value(tagTileWidth, 0))
		r.tileH = int64(d.value(tagTileLength, 0))
		r.offsetTag, r.cntTag = tagTileOffsets, tagTileByteCounts
	} else {
		r.tileW = r.width
		r.tileH = int64(d.value(tagRowsPerStrip, uint64(r.height)))
		if r.tileH > r.height {
			r.tileH = r.height
		}
		r.offsetTag, r.cntTag = tagStripOffsets, tagStripByteCounts
	}
	if r.tileW == 0 || r.tileH == 0 {
		return bio.NewError(bio.CodeUnsupportedFormat, "TIFF %q has zero tile size", r.key)
	}
	r.tilesAcross = (r.width + r.tileW - 1) / r.tileW
	r.tilesDown = (r.height + r.tileH - 1) / r.tileH
	return nil
}

type shapeDescription struct {
	Shape []int64 `json:"shape"`
	Axes  string  `json:"axes"`
}

// mapPages assigns pages to (T, C, Z) and sets the page strides.
func (r *Reader) mapPages(description string) (t, c, z int64) {
	n := int64(len(r.pages))
	r.pageStride = [3]int64{0, 0, 1}
	var sd shapeDescription
	if description == "" || json.Unmarshal([]byte(description), &sd) != nil || len(sd.Shape) < 2 || r.samples > 1 {
		return 1, 1, n
	}
	leading := sd.Shape[:len(sd.Shape)-2]
	var axes string
	if len(sd.Axes) == len(sd.Shape) {
		axes = sd.Axes[:len(leading)]
	} else {
		switch len(leading) {
		case 0:
		case 1:
			axes = "Z"
		case 2:
			axes = "CZ"
		case 3:
			axes = "TCZ"
		default:
			return 1, 1, n
		}
	}
	sizes := map[byte]int64{'T': 1, 'C': 1, 'Z': 1}
	prod := int64(1)
	for i := range leading {
		if _, ok := sizes[axes[i]]; !ok {
			bio.Warningf("Ignoring TIFF shape description with axis %q\n", axes[i])
			return 1, 1, n
		}
		sizes[axes[i]] = leading[i]
		prod *= leading[i]
	}
	if prod != n {
		bio.Warningf("TIFF shape description %v does not match %d pages\n", sd.Shape, n)
		return 1, 1, n
	}
	stride := int64(1)
	r.pageStride = [3]int64{}
	for i := len(leading) - 1; i >= 0; i-- {
		switch axes[i] {
		case 'T':
			r.pageStride[0] = stride
		case 'C':
			r.pageStride[1] = stride
		case 'Z':
			r.pageStride[2] = stride
		}
		stride *= leading[i]
	}
	return sizes['T'], sizes['C'], sizes['Z']
}

// Descriptor returns the image metadata derived from the first page.
func (r *Reader) Descriptor() *bio.ImageDescriptor {
	return r.desc
}

// ReadChunk returns the decoded tile at coord, a (T, C, Z, Y, X) chunk coordinate.
// Missing tiles, with zero offset or byte count, are reported as not found.
func (r *Reader) ReadChunk(ctx context.Context, coord []int64) ([]byte, bool, error) {
	if len(coord) != bio.NumAxes {
		return nil, false, bio.NewError(bio.CodeInvalidInput, "bad TIFF chunk coordinate %v", coord)
	}
	t, c, z, ty, tx := coord[0], coord[1], coord[2], coord[3], coord[4]
	var sample int64
	if r.samples > 1 {
		if r.planar {
			sample, c = c, 0
		} else {
			c = 0
		}
	}
	page := t*r.pageStride[0] + c*r.pageStride[1] + z*r.pageStride[2]
	if page < 0 || page >= int64(len(r.pages)) {
		return nil, false, bio.NewError(bio.CodeOutOfRange, "chunk %v maps to missing page %d", coord, page)
	}
	d := r.pages[page]
	index := ty*r.tilesAcross + tx
	if r.planar {
		index += sample * r.tilesAcross * r.tilesDown
	}
	offsets, counts := d.values(r.offsetTag), d.values(r.cntTag)
	if index >= int64(len(offsets)) || index >= int64(len(counts)) {
		return nil, false, bio.NewError(bio.CodeUnsupportedFormat, "page %d lacks tile %d", page, index)
	}
	if offsets[index] == 0 || counts[index] == 0 {
		return nil, false, nil
	}
	raw, err := r.store.GetRange(ctx, r.key, int64(offsets[index]), int64(counts[index])).Wait(ctx)
	if err != nil {
		return nil, false, err
	}
	samples := int64(1)
	if !r.planar {
		samples = r.samples
	}
	size := int(r.tileW * r.tileH * samples * int64(r.bytesPer))
	data, err := decompress(r.compression, raw, size)
	if err != nil {
		return nil, false, bio.StoreError(err, "decoding tile %d of page %d", index, page)
	}
	if len(data) < size {
		// Final strips may be short.
		padded := make([]byte, size)
		copy(padded, data)
		data = padded
	} else if len(data) > size {
		data = data[:size]
	} else if r.compression == compressionNone {
		data = append([]byte(nil), data...)
	}
	if r.bigEndian {
		swapToLittle(data, r.bytesPer)
	}
	if r.predictor == predictorHorizontal {
		undoHorizontal(data, int(r.tileW), int(samples), r.bytesPer)
	}
	if samples > 1 {
		data = deinterleave(data, int(r.tileW*r.tileH), int(samples), r.bytesPer)
	}
	return r.crop(data, samples), true, nil
}

// crop trims tiles that extend past an image smaller than one tile.
func (r *Reader) crop(data []byte, samples int64) []byte {
	chunk := r.desc.CanonicalChunk()
	h, w := chunk[bio.AxisY], chunk[bio.AxisX]
	if h == r.tileH && w == r.tileW {
		return data
	}
	bpp := int64(r.bytesPer)
	out := make([]byte, samples*h*w*bpp)
	for s := int64(0); s < samples; s++ {
		for y := int64(0); y < h; y++ {
			src := (s*r.tileH + y) * r.tileW * bpp
			dst := ((s*h + y) * w) * bpp
			copy(out[dst:dst+w*bpp], data[src:src+w*bpp])
		}
	}
	return out
}

// WriteChunk is not supported on a TIFF opened for reading.
func (r *Reader) WriteChunk(ctx context.Context, coord []int64, data []byte) error {
	return bio.NewError(bio.CodeUnsupportedFormat, "TIFF %q is open for reading only", r.key)
}

// Close releases the underlying store.
func (r *Reader) Close() error {
	return r.store.Close()
}

// Pages returns the number of full-resolution pages.
func (r *Reader) Pages() int {
	return len(r.pages)
}

// BigTIFF returns true if the file uses 64-bit offsets.
func (r *Reader) BigTIFF() bool {
	return r.big
}

func (r *Reader) String() string {
	return fmt.Sprintf("TIFF %q in %s", r.key, r.store)
}

func compressionName(scheme uint64) string {
	switch scheme {
	case compressionNone:
		return "none"
	case compressionLZW:
		return "lzw"
	case compressionDeflate, compressionDeflateOld:
		return "deflate"
	case compressionPackBits:
		return "packbits"
	case compressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("compression %d", scheme)
}
