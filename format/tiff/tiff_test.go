package tiff

import (
	"bytes"
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/storage"
)

func TestWriterRoundTrip(t *testing.T) {
	ctx := context.Background()
	location := filepath.Join(t.TempDir(), "out.ome.tif")
	opts := Options{
		Shape:      []int64{2, 3, 40, 50},
		ChunkShape: []int64{1, 1, 32, 32},
		DType:      bio.T_uint16,
		Order:      bio.MustAxisOrder("CZYX"),
	}
	w, err := Create(ctx, location, opts)
	if err != nil {
		t.Fatalf("create: %v\n", err)
	}
	chunkBytes := w.Descriptor().ChunkBytes()
	// Fill chunk (c=1, z=2, ty=1, tx=0) with a ramp; leave the rest unwritten.
	chunk := make([]byte, chunkBytes)
	for i := 0; i < int(chunkBytes)/2; i++ {
		binary.LittleEndian.PutUint16(chunk[2*i:], uint16(i))
	}
	if err := w.WriteChunk(ctx, []int64{1, 2, 1, 0}, chunk); err != nil {
		t.Fatalf("write chunk: %v\n", err)
	}
	got, found, err := w.ReadChunk(ctx, []int64{1, 2, 1, 0})
	if err != nil || !found || !bytes.Equal(got, chunk) {
		t.Fatalf("writer should read back its own tiles: found %t, %v\n", found, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v\n", err)
	}

	r, err := Open(ctx, location, storage.Config{})
	if err != nil {
		t.Fatalf("open: %v\n", err)
	}
	defer r.Close()
	desc := r.Descriptor()
	if desc.Channels() != 2 || desc.Depth() != 3 || desc.Height() != 40 || desc.Width() != 50 || desc.Tsteps() != 1 {
		t.Fatalf("bad descriptor: %s (extents %s)\n", desc, desc.Extents)
	}
	if desc.DType != bio.T_uint16 || desc.TileWidth() != 32 || desc.TileHeight() != 32 {
		t.Fatalf("bad type or tiles: %s\n", desc)
	}
	if r.Pages() != 6 || r.BigTIFF() {
		t.Fatalf("expected 6 classic TIFF pages, got %d\n", r.Pages())
	}
	data, found, err := r.ReadChunk(ctx, []int64{0, 1, 2, 1, 0})
	if err != nil || !found {
		t.Fatalf("read chunk: %t %v\n", found, err)
	}
	if !bytes.Equal(data, chunk) {
		t.Fatalf("tile contents differ after round trip\n")
	}
	data, _, err = r.ReadChunk(ctx, []int64{0, 0, 0, 0, 1})
	if err != nil {
		t.Fatalf("read empty tile: %v\n", err)
	}
	if !bytes.Equal(data, make([]byte, chunkBytes)) {
		t.Fatalf("unwritten tiles should be zero\n")
	}
}

func TestSmallImageTile(t *testing.T) {
	ctx := context.Background()
	location := "mem://tiff-small/small.tif"
	defer storage.DropMemory("mem://tiff-small")
	w, err := Create(ctx, location, Options{
		Shape:      []int64{10, 12},
		ChunkShape: []int64{10, 12},
		DType:      bio.T_float32,
		Order:      bio.MustAxisOrder("YX"),
	})
	if err != nil {
		t.Fatalf("create: %v\n", err)
	}
	chunk := make([]byte, 10*12*4)
	for i := 0; i < 120; i++ {
		bio.T_float32.PutValue(chunk[4*i:], float64(i)/2)
	}
	if err := w.WriteChunk(ctx, []int64{0, 0}, chunk); err != nil {
		t.Fatalf("write: %v\n", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v\n", err)
	}
	r, err := Open(ctx, location, storage.Config{})
	if err != nil {
		t.Fatalf("open: %v\n", err)
	}
	defer r.Close()
	if r.Descriptor().DType != bio.T_float32 || r.Descriptor().TileWidth() != 12 {
		t.Fatalf("bad descriptor %s\n", r.Descriptor())
	}
	data, found, err := r.ReadChunk(ctx, []int64{0, 0, 0, 0, 0})
	if err != nil || !found || !bytes.Equal(data, chunk) {
		t.Fatalf("padded tile not cropped back: found %t err %v\n", found, err)
	}
}

func TestChunkValidation(t *testing.T) {
	order := bio.MustAxisOrder("ZYX")
	if err := ValidateChunkShape(order, []int64{4, 100, 100}, []int64{1, 20, 32}); !bio.IsInvalidChunkShape(err) {
		t.Fatalf("expected unaligned tile to fail, got %v\n", err)
	}
	if err := ValidateChunkShape(order, []int64{4, 100, 100}, []int64{2, 32, 32}); !bio.IsInvalidChunkShape(err) {
		t.Fatalf("expected multi-plane chunk to fail, got %v\n", err)
	}
	if err := ValidateChunkShape(order, []int64{4, 100, 100}, []int64{1, 100, 48}); err != nil {
		t.Fatalf("expected full-width tile to pass: %v\n", err)
	}
	_, err := Create(context.Background(), filepath.Join(t.TempDir(), "x.tif"), Options{
		Shape: []int64{4, 100, 100}, ChunkShape: []int64{1, 20, 32}, DType: bio.T_uint8, Order: order,
	})
	if !bio.IsInvalidChunkShape(err) {
		t.Fatalf("expected create to fail with invalid chunk shape, got %v\n", err)
	}
}

// bigEndianStrips builds a 4x3 uint16 big-endian TIFF with two uncompressed strips.
func bigEndianStrips() []byte {
	be := binary.BigEndian
	var buf bytes.Buffer
	buf.Write([]byte{'M', 'M', 0, 42, 0, 0, 0, 8})
	// 5 entries
	entries := [][3]uint32{
		{tagImageWidth, dtShort, 4},
		{tagImageLength, dtShort, 3},
		{tagBitsPerSample, dtShort, 16},
		{tagStripOffsets, dtLong, 0},
		{tagRowsPerStrip, dtShort, 2},
		{tagStripByteCounts, dtLong, 0},
	}
	ifdSize := 2 + len(entries)*12 + 4
	offsetsPos := uint32(8 + ifdSize)
	countsPos := offsetsPos + 8
	dataPos := countsPos + 8
	b := make([]byte, 2)
	be.PutUint16(b, uint16(len(entries)))
	buf.Write(b)
	for _, e := range entries {
		entry := make([]byte, 12)
		be.PutUint16(entry[0:], uint16(e[0]))
		be.PutUint16(entry[2:], uint16(e[1]))
		switch e[0] {
		case tagStripOffsets:
			be.PutUint32(entry[4:], 2)
			be.PutUint32(entry[8:], offsetsPos)
		case tagStripByteCounts:
			be.PutUint32(entry[4:], 2)
			be.PutUint32(entry[8:], countsPos)
		default:
			be.PutUint32(entry[4:], 1)
			be.PutUint16(entry[8:], uint16(e[2]))
		}
		buf.Write(entry)
	}
	buf.Write([]byte{0, 0, 0, 0})
	word := make([]byte, 4)
	for _, v := range []uint32{dataPos, dataPos + 16, 16, 8} {
		be.PutUint32(word, v)
		buf.Write(word)
	}
	pix := make([]byte, 2)
	for i := 0; i < 12; i++ {
		be.PutUint16(pix, uint16(1000+i))
		buf.Write(pix)
	}
	return buf.Bytes()
}

func TestBigEndianStrips(t *testing.T) {
	ctx := context.Background()
	location := "mem://tiff-strips"
	defer storage.DropMemory(location)
	s, err := storage.Open(ctx, location, storage.Config{})
	if err != nil {
		t.Fatalf("store: %v\n", err)
	}
	if _, err := s.Put(ctx, "strips.tif", bigEndianStrips()).Result(); err != nil {
		t.Fatalf("put: %v\n", err)
	}
	s.Close()

	r, err := Open(ctx, location+"/strips.tif", storage.Config{})
	if err != nil {
		t.Fatalf("open: %v\n", err)
	}
	defer r.Close()
	desc := r.Descriptor()
	if desc.Width() != 4 || desc.Height() != 3 || desc.TileHeight() != 2 || desc.TileWidth() != 4 {
		t.Fatalf("bad strip layout: %s\n", desc)
	}
	first, found, err := r.ReadChunk(ctx, []int64{0, 0, 0, 0, 0})
	if err != nil || !found {
		t.Fatalf("read strip 0: %t %v\n", found, err)
	}
	if v := bio.T_uint16.Value(first[2:]); v != 1001 {
		t.Fatalf("expected 1001 in first strip, got %g\n", v)
	}
	last, _, err := r.ReadChunk(ctx, []int64{0, 0, 0, 1, 0})
	if err != nil {
		t.Fatalf("read strip 1: %v\n", err)
	}
	if len(last) != 16 || bio.T_uint16.Value(last[6:]) != 1011 || bio.T_uint16.Value(last[8:]) != 0 {
		t.Fatalf("short final strip not padded: %v\n", last)
	}
}

func TestNotTIFF(t *testing.T) {
	ctx := context.Background()
	location := "mem://tiff-bad"
	defer storage.DropMemory(location)
	s, _ := storage.Open(ctx, location, storage.Config{})
	s.Put(ctx, "bad.tif", []byte("definitely not a tiff")).Result()
	s.Close()
	if _, err := Open(ctx, location+"/bad.tif", storage.Config{}); !bio.IsUnsupportedFormat(err) {
		t.Fatalf("expected unsupported format, got %v\n", err)
	}
	if !IsTIFF([]byte{'I', 'I', 43, 0}) || IsTIFF([]byte{'I', 'I', 42}) {
		t.Fatalf("bad signature check\n")
	}
}

func TestPackBits(t *testing.T) {
	packed := []byte{0xFE, 0xAA, 0x02, 0x80, 0x00, 0x2A, 0xFD, 0xAA, 0x03, 0x80, 0x00, 0x2A, 0x22, 0xF7, 0xAA}
	expected := []byte{0xAA, 0xAA, 0xAA, 0x80, 0x00, 0x2A, 0xAA, 0xAA, 0xAA, 0xAA, 0x80, 0x00, 0x2A, 0x22,
		0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	out, err := unpackBits(packed, len(expected))
	if err != nil {
		t.Fatalf("unpack: %v\n", err)
	}
	if !bytes.Equal(out, expected) {
		t.Fatalf("bad PackBits output %x\n", out)
	}
}

func TestPredictorAndSamples(t *testing.T) {
	// Two rows of three 16-bit pixels, differenced.
	data := make([]byte, 12)
	for i, v := range []uint16{100, 5, 5, 7, 1, 65535} {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	undoHorizontal(data, 3, 1, 2)
	for i, v := range []uint16{100, 105, 110, 7, 8, 7} {
		if got := binary.LittleEndian.Uint16(data[2*i:]); got != v {
			t.Fatalf("element %d: got %d, expected %d\n", i, got, v)
		}
	}

	rgb := []byte{1, 2, 3, 4, 5, 6}
	planes := deinterleave(rgb, 2, 3, 1)
	if !bytes.Equal(planes, []byte{1, 4, 2, 5, 3, 6}) {
		t.Fatalf("bad deinterleave: %v\n", planes)
	}
}
