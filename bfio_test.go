package bfio

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/codec"
	"github.com/janelia-flyem/bfio/format/zarr"
)

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func randomImage(dtype bio.DataType, shape bio.Shape) *bio.Array {
	rng := rand.New(rand.NewSource(42))
	a := bio.NewArray(dtype, shape)
	for i := 0; i < len(a.Data); i += dtype.Bytes() {
		dtype.PutValue(a.Data[i:], float64(rng.Intn(200)))
	}
	return a
}

func TestDimensionOrderValidation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, order := range []string{"", "ZCX", "XYZZ", "XYQ", "TCZYXX", "xy"} {
		path := filepath.Join(dir, "bad.zarr")
		_, err := CreateWriter(ctx, path, []int64{10, 10, 10}, []int64{5, 5, 5}, "uint8", order, bio.Auto)
		if !bio.IsInvalidDimensionOrder(err) {
			t.Errorf("order %q: expected invalid dimension order, got %v\n", order, err)
		}
		if exists(path) {
			t.Fatalf("order %q left an artifact at %s\n", order, path)
		}
	}
	path := filepath.Join(dir, "bad.ome.tif")
	_, err := CreateWriter(ctx, path, []int64{64, 64}, []int64{20, 32}, "uint8", "YX", bio.OmeTiff)
	if !bio.IsInvalidChunkShape(err) {
		t.Errorf("expected invalid TIFF tile shape, got %v\n", err)
	}
	if _, err := CreateWriter(ctx, path, []int64{64, 64}, []int64{32, 32}, "complex64", "YX", bio.OmeTiff); !bio.IsInvalidInput(err) {
		t.Errorf("expected invalid data type, got %v\n", err)
	}
	if exists(path) {
		t.Fatalf("failed TIFF create left an artifact\n")
	}
}

func TestZarrSignatureExclusivity(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "img.zarr")
	create := func(ft bio.FileType) {
		w, err := CreateWriter(ctx, path, []int64{32, 32}, []int64{16, 16}, "uint16", "YX", ft)
		if err != nil {
			t.Fatalf("create %s: %v\n", ft, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v\n", err)
		}
	}
	v2 := filepath.Join(path, zarr.V2ArrayFile)
	v3 := filepath.Join(path, zarr.V3ManifestFile)

	create(bio.Auto)
	if !exists(v2) || exists(v3) {
		t.Fatalf("default create should make only a v2 array\n")
	}
	create(bio.OmeZarrV3)
	if exists(v2) || !exists(v3) {
		t.Fatalf("v3 create should replace the v2 signature\n")
	}
	create(bio.OmeZarr)
	if !exists(v2) || exists(v3) {
		t.Fatalf("v2 create should replace the v3 signature\n")
	}
}

func TestRoundTripFormats(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	shape := []int64{2, 3, 40, 50}
	chunk := []int64{1, 1, 32, 32}
	src := randomImage(bio.T_uint16, bio.NewShape(50, 40, 3, 2, 1))
	for name, ft := range map[string]bio.FileType{
		"v2.zarr": bio.OmeZarrV2, "v3.zarr": bio.OmeZarrV3, "img.ome.tif": bio.OmeTiff,
	} {
		path := filepath.Join(dir, name)
		w, err := CreateWriter(ctx, path, shape, chunk, "uint16", "CZYX", ft,
			WithCompressor(codec.Spec{Name: "blosc", CName: "zstd", Level: 3, Shuffle: 1}))
		if err != nil {
			t.Fatalf("%s: create: %v\n", name, err)
		}
		if err := w.WriteImage(ctx, src); err != nil {
			t.Fatalf("%s: write: %v\n", name, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("%s: close: %v\n", name, err)
		}

		r, err := OpenReader(ctx, path, bio.Auto, "", WithConcurrency(4))
		if err != nil {
			t.Fatalf("%s: open: %v\n", name, err)
		}
		if r.Width() != 50 || r.Height() != 40 || r.Depth() != 3 || r.Channels() != 2 || r.Tsteps() != 1 {
			t.Fatalf("%s: bad extents %s\n", name, r.Descriptor().Extents)
		}
		if r.DataType() != "uint16" || r.TileWidth() != 32 || r.TileHeight() != 32 {
			t.Fatalf("%s: bad type or tiles: %s\n", name, r)
		}
		got, err := r.Read(ctx, bio.NewRange(0, 39), bio.NewRange(0, 49), bio.NewRange(0, 2), bio.NewRange(0, 1))
		if err != nil {
			t.Fatalf("%s: read: %v\n", name, err)
		}
		if !got.Equal(src) {
			t.Fatalf("%s: round trip differs\n", name)
		}
		window := bio.NewRegion(bio.NewRange(17, 33), bio.NewRange(30, 49), bio.Index(2), bio.Index(1))
		got, err = r.ReadRegion(ctx, window)
		if err != nil {
			t.Fatalf("%s: read window: %v\n", name, err)
		}
		expected, _ := src.Sub(window)
		if !got.Equal(expected) {
			t.Fatalf("%s: window differs\n", name)
		}
		if err := r.Close(); err != nil {
			t.Fatalf("%s: close reader: %v\n", name, err)
		}
	}
}

func TestScheduledTiles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tiles.zarr")
	w, err := CreateWriter(ctx, path, []int64{100, 90}, []int64{32, 32}, "float32", "YX", bio.OmeZarrV3)
	if err != nil {
		t.Fatalf("create: %v\n", err)
	}
	src := randomImage(bio.T_float32, bio.NewShape(90, 100, 1, 1, 1))
	// Write in two row bands.
	top, _ := src.Sub(bio.NewRegion(bio.NewRange(0, 49), bio.NewRange(0, 89)))
	bottom, _ := src.Sub(bio.NewRegion(bio.NewRange(50, 99), bio.NewRange(0, 89)))
	if err := w.Write(ctx, top, bio.NewRange(0, 49), bio.NewRange(0, 89)); err != nil {
		t.Fatalf("write top: %v\n", err)
	}
	if err := w.Write(ctx, bottom, bio.NewRange(50, 99), bio.NewRange(0, 89)); err != nil {
		t.Fatalf("write bottom: %v\n", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v\n", err)
	}

	r, err := OpenReader(ctx, path, bio.OmeZarrV3, "YX", WithCacheSize(4<<20))
	if err != nil {
		t.Fatalf("open: %v\n", err)
	}
	defer r.Close()
	tiles, err := r.ScheduleTiledReads(40, 40, 0, 0)
	if err != nil {
		t.Fatalf("schedule: %v\n", err)
	}
	if len(tiles) != 9 || len(r.TileRequests()) != 9 {
		t.Fatalf("expected 9 tiles, got %d\n", len(tiles))
	}
	for i, tile := range tiles {
		got, err := r.ReadTile(ctx, i)
		if err != nil {
			t.Fatalf("tile %d: %v\n", i, err)
		}
		expected, _ := src.Sub(tile)
		if !got.Equal(expected) {
			t.Fatalf("tile %d (%s) differs\n", i, tile)
		}
	}
	if _, err := r.ReadTile(ctx, 9); !bio.IsOutOfRange(err) {
		t.Fatalf("expected out of range tile, got %v\n", err)
	}
}
