package tiff

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zlib"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/storage"
)

// TileAlignment is the required multiple for TIFF tile dimensions.
const TileAlignment = 16

// Options describe a new TIFF.
type Options struct {
	Shape      []int64
	ChunkShape []int64
	DType      bio.DataType
	Order      bio.AxisOrder

	// Level is the deflate level used for tiles; zero selects the default.
	Level int

	Store storage.Config
}

// Writer composes tiles in memory and writes a tiled, deflate-compressed TIFF with one
// page per (T, C, Z) plane when closed.
type Writer struct {
	desc     *bio.ImageDescriptor
	location string
	level    int
	config   storage.Config

	tilesLoc string
	tiles    storage.Store

	mu     sync.Mutex
	closed bool
}

var writerCount int64

// ValidateChunkShape checks TIFF tiling rules: chunks cover a single (T, C, Z) plane and
// their Y and X sizes are multiples of TileAlignment or span the whole image.
func ValidateChunkShape(order bio.AxisOrder, shape, chunkShape []int64) error {
	if len(chunkShape) != order.Len() || len(shape) != order.Len() {
		return bio.NewError(bio.CodeInvalidChunkShape, "chunk shape %v does not match order %q", chunkShape, order)
	}
	for i, a := range order.Axes() {
		switch a {
		case bio.AxisY, bio.AxisX:
			if chunkShape[i]%TileAlignment != 0 && chunkShape[i] != shape[i] {
				return bio.NewError(bio.CodeInvalidChunkShape,
					"TIFF tile size %d on axis %s must be a multiple of %d", chunkShape[i], a, TileAlignment)
			}
		default:
			if chunkShape[i] != 1 {
				return bio.NewError(bio.CodeInvalidChunkShape,
					"TIFF chunks must have size 1 on axis %s, not %d", a, chunkShape[i])
			}
		}
	}
	return nil
}

// Create validates the options and returns a writer.  Nothing is written to location
// until Close.
func Create(ctx context.Context, location string, opts Options) (*Writer, error) {
	if opts.Order.IsZero() {
		return nil, bio.NewError(bio.CodeInvalidDimensionOrder, "TIFF requires a dimension order")
	}
	desc, err := bio.NewImageDescriptor(opts.Order, opts.Shape, opts.ChunkShape, opts.DType)
	if err != nil {
		return nil, err
	}
	if err := ValidateChunkShape(opts.Order, opts.Shape, opts.ChunkShape); err != nil {
		return nil, err
	}
	level := opts.Level
	if level == 0 {
		level = zlib.DefaultCompression
	}
	if level < -2 || level > zlib.BestCompression {
		return nil, bio.NewError(bio.CodeInvalidInput, "bad deflate level %d", opts.Level)
	}
	desc.Kind = bio.OmeTiff
	desc.Compressor = "deflate"
	w := &Writer{
		desc:     desc,
		location: location,
		level:    level,
		config:   opts.Store,
		tilesLoc: fmt.Sprintf("mem://tiff-tiles-%d", atomic.AddInt64(&writerCount, 1)),
	}
	if w.tiles, err = storage.Open(ctx, w.tilesLoc, opts.Store); err != nil {
		return nil, err
	}
	return w, nil
}

// Descriptor returns the metadata of the image being written.
func (w *Writer) Descriptor() *bio.ImageDescriptor {
	return w.desc
}

// canonical converts a declared-order chunk coordinate to (T, C, Z, Y, X).
func (w *Writer) canonical(coord []int64) (c bio.Shape) {
	for i, a := range w.desc.Order.Axes() {
		c[a] = coord[i]
	}
	return
}

func tileKey(c bio.Shape) string {
	return fmt.Sprintf("%d.%d.%d.%d.%d", c[0], c[1], c[2], c[3], c[4])
}

// ReadChunk returns the composed tile at coord, if it has been written.
func (w *Writer) ReadChunk(ctx context.Context, coord []int64) ([]byte, bool, error) {
	data, err := w.tiles.Get(ctx, tileKey(w.canonical(coord))).Wait(ctx)
	if err != nil || data == nil {
		return nil, false, err
	}
	return data, true, nil
}

// WriteChunk stores a full tile in memory until Close.
func (w *Writer) WriteChunk(ctx context.Context, coord []int64, data []byte) error {
	if int64(len(data)) != w.desc.ChunkBytes() {
		return bio.NewError(bio.CodeShapeMismatch, "tile %v has %d bytes, expected %d", coord, len(data),
			w.desc.ChunkBytes())
	}
	_, err := w.tiles.Put(ctx, tileKey(w.canonical(coord)), append([]byte(nil), data...)).Wait(ctx)
	return err
}

// Close writes the TIFF and releases the in-memory tiles.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	defer storage.DropMemory(w.tilesLoc)
	defer w.tiles.Close()

	ctx := context.Background()
	data, err := w.encode(ctx)
	if err != nil {
		return err
	}
	dir, key := storage.Split(w.location)
	config := w.config
	config.Create = true
	store, err := storage.Open(ctx, dir, config)
	if err != nil {
		return err
	}
	if _, err := store.Put(ctx, key, data).Wait(ctx); err != nil {
		store.Close()
		return err
	}
	bio.Infof("Wrote TIFF %s (%s)\n", w.location, humanize.Bytes(uint64(len(data))))
	return store.Close()
}

func roundUp(n, m int64) int64 {
	return (n + m - 1) / m * m
}

// encodedTile is one compressed tile; identical empty tiles share one copy.
type encodedTile struct {
	data   []byte
	offset int64
}

func (w *Writer) encode(ctx context.Context) ([]byte, error) {
	ext := w.desc.Extents
	chunk := w.desc.CanonicalChunk()
	chunkH, chunkW := chunk[bio.AxisY], chunk[bio.AxisX]
	tileH, tileW := roundUp(chunkH, TileAlignment), roundUp(chunkW, TileAlignment)
	down := (ext[bio.AxisY] + chunkH - 1) / chunkH
	across := (ext[bio.AxisX] + chunkW - 1) / chunkW
	bpp := int64(w.desc.DType.Bytes())

	empty, err := w.compress(make([]byte, tileH*tileW*bpp))
	if err != nil {
		return nil, err
	}
	emptyTile := &encodedTile{data: empty}

	numPages := ext[bio.AxisT] * ext[bio.AxisC] * ext[bio.AxisZ]
	pages := make([][]*encodedTile, 0, numPages)
	for t := int64(0); t < ext[bio.AxisT]; t++ {
		for c := int64(0); c < ext[bio.AxisC]; c++ {
			for z := int64(0); z < ext[bio.AxisZ]; z++ {
				tiles := make([]*encodedTile, 0, down*across)
				for ty := int64(0); ty < down; ty++ {
					for tx := int64(0); tx < across; tx++ {
						key := tileKey(bio.Shape{t, c, z, ty, tx})
						raw, err := w.tiles.Get(ctx, key).Wait(ctx)
						if err != nil {
							return nil, err
						}
						if raw == nil {
							tiles = append(tiles, emptyTile)
							continue
						}
						enc, err := w.compress(padTile(raw, chunkH, chunkW, tileH, tileW, bpp))
						if err != nil {
							return nil, err
						}
						tiles = append(tiles, &encodedTile{data: enc})
					}
				}
				pages = append(pages, tiles)
			}
		}
	}

	var dataSize int64
	for _, tiles := range pages {
		for _, tile := range tiles {
			if tile != emptyTile {
				dataSize += int64(len(tile.data))
			}
		}
	}
	dataSize += int64(len(empty))
	big := dataSize+int64(len(pages))*1024 > 1<<32-1

	var buf bytes.Buffer
	le := binary.LittleEndian
	if big {
		buf.Write([]byte{'I', 'I', 43, 0, 8, 0, 0, 0})
		buf.Write(make([]byte, 8))
	} else {
		buf.Write([]byte{'I', 'I', 42, 0})
		buf.Write(make([]byte, 4))
	}
	emptyTile.offset = int64(buf.Len())
	buf.Write(empty)
	for _, tiles := range pages {
		for _, tile := range tiles {
			if tile != emptyTile {
				tile.offset = int64(buf.Len())
				buf.Write(tile.data)
			}
		}
	}

	description, err := json.Marshal(shapeDescription{
		Shape: []int64{ext[bio.AxisT], ext[bio.AxisC], ext[bio.AxisZ], ext[bio.AxisY], ext[bio.AxisX]},
		Axes:  "TCZYX",
	})
	if err != nil {
		return nil, err
	}
	sampleFormat := uint64(1)
	switch {
	case w.desc.DType.IsFloat():
		sampleFormat = 3
	case w.desc.DType.IsSigned():
		sampleFormat = 2
	}

	// Position of the field holding the offset of the next IFD.
	nextPtr := int64(4)
	if big {
		nextPtr = 8
	}
	for i, tiles := range pages {
		if buf.Len()%2 == 1 {
			buf.WriteByte(0)
		}
		ifdOffset := int64(buf.Len())
		b := buf.Bytes()
		if big {
			le.PutUint64(b[nextPtr:], uint64(ifdOffset))
		} else {
			le.PutUint32(b[nextPtr:], uint32(ifdOffset))
		}
		offsets := make([]uint64, len(tiles))
		counts := make([]uint64, len(tiles))
		for j, tile := range tiles {
			offsets[j] = uint64(tile.offset)
			counts[j] = uint64(len(tile.data))
		}
		entries := []ifdEntry{
			shortEntry(tagImageWidth, uint64(ext[bio.AxisX])),
			shortEntry(tagImageLength, uint64(ext[bio.AxisY])),
			shortEntry(tagBitsPerSample, uint64(bpp*8)),
			shortEntry(tagCompression, compressionDeflate),
			shortEntry(tagPhotometric, 1),
			shortEntry(tagSamplesPerPixel, 1),
			shortEntry(tagPlanarConfiguration, 1),
			longEntry(tagTileWidth, uint64(tileW)),
			longEntry(tagTileLength, uint64(tileH)),
			offsetEntry(tagTileOffsets, offsets, big),
			offsetEntry(tagTileByteCounts, counts, big),
			shortEntry(tagSampleFormat, sampleFormat),
		}
		if ext[bio.AxisX] > 0xffff || ext[bio.AxisY] > 0xffff {
			entries[0] = longEntry(tagImageWidth, uint64(ext[bio.AxisX]))
			entries[1] = longEntry(tagImageLength, uint64(ext[bio.AxisY]))
		}
		if i == 0 {
			entries = append(entries, ifdEntry{tag: tagImageDescription, typ: dtASCII,
				count: uint64(len(description) + 1), data: append(description, 0)})
		}
		nextPtr = writeIFD(&buf, entries, ifdOffset, big)
	}
	bio.Debugf("Encoded %d TIFF pages, %s of tiles\n", len(pages), humanize.Bytes(uint64(dataSize)))
	return buf.Bytes(), nil
}

func padTile(raw []byte, chunkH, chunkW, tileH, tileW, bpp int64) []byte {
	if chunkH == tileH && chunkW == tileW {
		return raw
	}
	out := make([]byte, tileH*tileW*bpp)
	for y := int64(0); y < chunkH; y++ {
		copy(out[y*tileW*bpp:], raw[y*chunkW*bpp:(y+1)*chunkW*bpp])
	}
	return out
}

func (w *Writer) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, w.level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint64
	data  []byte
}

func shortEntry(tag uint16, v uint64) ifdEntry {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v))
	return ifdEntry{tag, dtShort, 1, b}
}

func longEntry(tag uint16, v uint64) ifdEntry {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return ifdEntry{tag, dtLong, 1, b}
}

func offsetEntry(tag uint16, vals []uint64, big bool) ifdEntry {
	if big {
		b := make([]byte, 8*len(vals))
		for i, v := range vals {
			binary.LittleEndian.PutUint64(b[8*i:], v)
		}
		return ifdEntry{tag, dtLong8, uint64(len(vals)), b}
	}
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(v))
	}
	return ifdEntry{tag, dtLong, uint64(len(vals)), b}
}

// writeIFD appends a directory at offset, with out-of-line values following the entry
// table, and returns the file position of its zero next-IFD field.
func writeIFD(buf *bytes.Buffer, entries []ifdEntry, offset int64, big bool) int64 {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })
	le := binary.LittleEndian
	countSize, entrySize, offSize := int64(2), int64(12), int64(4)
	if big {
		countSize, entrySize, offSize = 8, 20, 8
	}
	inlineSize := offSize
	tableSize := countSize + int64(len(entries))*entrySize + offSize
	extra := offset + tableSize

	table := make([]byte, tableSize)
	var outOfLine []byte
	if big {
		le.PutUint64(table, uint64(len(entries)))
	} else {
		le.PutUint16(table, uint16(len(entries)))
	}
	for i, e := range entries {
		entry := table[countSize+int64(i)*entrySize:]
		le.PutUint16(entry[0:], e.tag)
		le.PutUint16(entry[2:], e.typ)
		var value []byte
		if big {
			le.PutUint64(entry[4:], e.count)
			value = entry[12:20]
		} else {
			le.PutUint32(entry[4:], uint32(e.count))
			value = entry[8:12]
		}
		if int64(len(e.data)) <= inlineSize {
			copy(value, e.data)
			continue
		}
		pos := extra + int64(len(outOfLine))
		if big {
			le.PutUint64(value, uint64(pos))
		} else {
			le.PutUint32(value, uint32(pos))
		}
		outOfLine = append(outOfLine, e.data...)
		if len(outOfLine)%2 == 1 {
			outOfLine = append(outOfLine, 0)
		}
	}
	buf.Write(table)
	buf.Write(outOfLine)
	return offset + tableSize - offSize
}
