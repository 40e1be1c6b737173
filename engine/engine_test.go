package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/codec"
	"github.com/janelia-flyem/bfio/format"
	"github.com/janelia-flyem/bfio/storage"
)

var testCount int64

func memLocation(t *testing.T) string {
	location := fmt.Sprintf("mem://engine-test-%d", atomic.AddInt64(&testCount, 1))
	t.Cleanup(func() { storage.DropMemory(location) })
	return location
}

func newEngine(t *testing.T, opts format.CreateOptions, config Config) *Engine {
	if opts.Compressor == (codec.Spec{}) {
		opts.Compressor = codec.Spec{Name: "zstd"}
	}
	a, err := format.Create(context.Background(), memLocation(t), opts)
	if err != nil {
		t.Fatalf("create: %v\n", err)
	}
	e := New(a, config)
	t.Cleanup(func() { e.Close() })
	return e
}

// randomArray returns an array of shape filled with values in [0, 100).
func randomArray(dtype bio.DataType, shape bio.Shape, seed int64) *bio.Array {
	rng := rand.New(rand.NewSource(seed))
	a := bio.NewArray(dtype, shape)
	nb := dtype.Bytes()
	for i := 0; i < len(a.Data); i += nb {
		dtype.PutValue(a.Data[i:], float64(rng.Intn(100)))
	}
	return a
}

func TestProject(t *testing.T) {
	tests := []struct {
		r        bio.Range
		size     int64
		expected []span
	}{
		{bio.NewRange(0, 9), 10, []span{{0, 0, 10, 0}}},
		{bio.NewRange(5, 24), 10, []span{{0, 5, 5, 0}, {1, 0, 10, 5}, {2, 0, 5, 15}}},
		{bio.NewStridedRange(3, 25, 4), 10, []span{{0, 3, 2, 0}, {1, 1, 3, 2}, {2, 3, 1, 5}}},
		{bio.NewStridedRange(0, 40, 25), 10, []span{{0, 0, 1, 0}, {2, 5, 1, 1}}},
		{bio.Index(17), 4, []span{{4, 1, 1, 0}}},
	}
	for _, tc := range tests {
		got := project(tc.r, tc.size)
		if fmt.Sprint(got) != fmt.Sprint(tc.expected) {
			t.Errorf("project(%s, %d): got %v, expected %v\n", tc.r, tc.size, got, tc.expected)
		}
	}
}

func TestCovering(t *testing.T) {
	desc, err := bio.NewImageDescriptor(bio.MustAxisOrder("CYX"), []int64{3, 100, 100}, []int64{2, 32, 32}, bio.T_uint8)
	if err != nil {
		t.Fatalf("descriptor: %v\n", err)
	}
	req := bio.NewRegion(bio.NewRange(30, 70), bio.NewRange(0, 31), bio.Index(0), bio.NewRange(1, 2))
	parts := covering(desc, req)
	// 2 channel chunks x 3 row chunks x 1 col chunk
	if len(parts) != 6 {
		t.Fatalf("expected 6 covering chunks, got %d\n", len(parts))
	}
	if parts[0].key() != "0,0,0" || parts[5].key() != "1,2,0" {
		t.Fatalf("unexpected covering order: %s ... %s\n", parts[0].key(), parts[5].key())
	}
	edge := bio.NewRegion(bio.NewRange(96, 99), bio.NewRange(96, 99), bio.Index(0), bio.NewRange(2, 2))
	if !coversChunk(desc, edge, covering(desc, edge)[0]) {
		t.Fatalf("edge chunk with all in-bounds elements selected should be covered\n")
	}
	partial := bio.NewRegion(bio.NewRange(97, 99), bio.NewRange(96, 99), bio.Index(0), bio.NewRange(2, 2))
	if coversChunk(desc, partial, covering(desc, partial)[0]) {
		t.Fatalf("partially selected chunk should need a read\n")
	}
}

func TestRoundTripAllTypes(t *testing.T) {
	ctx := context.Background()
	types := []bio.DataType{bio.T_uint8, bio.T_int8, bio.T_uint16, bio.T_int16, bio.T_uint32, bio.T_int32,
		bio.T_uint64, bio.T_int64, bio.T_float32, bio.T_float64}
	for i, dtype := range types {
		e := newEngine(t, format.CreateOptions{
			Shape:      []int64{2, 3, 37, 53},
			ChunkShape: []int64{1, 2, 16, 16},
			DType:      dtype,
			Order:      bio.MustAxisOrder("CZYX"),
			FileType:   bio.OmeZarrV3,
		}, Config{Concurrency: 4})
		full := bio.FullRegion(e.Descriptor().Extents)
		src := randomArray(dtype, full.Shape(), int64(i))
		if err := e.Write(ctx, full, src); err != nil {
			t.Fatalf("%s write: %v\n", dtype, err)
		}
		got, err := e.Read(ctx, full)
		if err != nil {
			t.Fatalf("%s read: %v\n", dtype, err)
		}
		if !got.Equal(src) {
			t.Fatalf("%s round trip differs\n", dtype)
		}

		// Windows that do not line up with chunks read the same as slicing the whole.
		windows := []bio.RegionRequest{
			bio.NewRegion(bio.NewRange(5, 20), bio.NewRange(15, 17), bio.NewRange(1, 2), bio.Index(1)),
			bio.NewRegion(bio.NewRange(31, 32), bio.NewRange(0, 52), bio.NewRange(0, 2), bio.NewRange(0, 1)),
			bio.NewRegion(bio.NewStridedRange(1, 36, 5), bio.NewStridedRange(0, 52, 3), bio.Index(2), bio.Index(0)),
		}
		for _, w := range windows {
			got, err := e.Read(ctx, w)
			if err != nil {
				t.Fatalf("%s read %s: %v\n", dtype, w, err)
			}
			expected, err := src.Sub(w)
			if err != nil {
				t.Fatalf("sub: %v\n", err)
			}
			if !got.Equal(expected) {
				t.Fatalf("%s window %s differs from slice of full read\n", dtype, w)
			}
		}
	}
}

func TestRowBandWrites(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, format.CreateOptions{
		Shape:      []int64{45, 70},
		ChunkShape: []int64{16, 32},
		DType:      bio.T_uint16,
		Order:      bio.MustAxisOrder("YX"),
	}, Config{})
	full := bio.FullRegion(e.Descriptor().Extents)
	src := randomArray(bio.T_uint16, full.Shape(), 7)
	for y := int64(0); y < 45; y += 7 {
		end := y + 6
		if end > 44 {
			end = 44
		}
		band := bio.NewRegion(bio.NewRange(y, end), bio.NewRange(0, 69))
		data, _ := src.Sub(band)
		if err := e.Write(ctx, band, data); err != nil {
			t.Fatalf("write band at %d: %v\n", y, err)
		}
	}
	got, err := e.Read(ctx, full)
	if err != nil {
		t.Fatalf("read: %v\n", err)
	}
	if !got.Equal(src) {
		t.Fatalf("row band writes did not reassemble the image\n")
	}
}

func TestStridedWrite(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, format.CreateOptions{
		Shape:      []int64{20, 20},
		ChunkShape: []int64{8, 8},
		DType:      bio.T_int32,
		Order:      bio.MustAxisOrder("YX"),
		FillValue:  -1,
	}, Config{})
	req := bio.NewRegion(bio.NewStridedRange(1, 19, 3), bio.NewStridedRange(0, 18, 9))
	src := bio.NewArray(bio.T_int32, req.Shape())
	for i := range src.Values() {
		bio.T_int32.PutValue(src.Data[4*i:], float64(i))
	}
	if err := e.Write(ctx, req, src); err != nil {
		t.Fatalf("strided write: %v\n", err)
	}
	got, err := e.Read(ctx, bio.FullRegion(e.Descriptor().Extents))
	if err != nil {
		t.Fatalf("read: %v\n", err)
	}
	var i float64
	for y := int64(0); y < 20; y++ {
		for x := int64(0); x < 20; x++ {
			v := got.At(0, 0, 0, y, x)
			if (y-1)%3 == 0 && x%9 == 0 {
				if v != i {
					t.Fatalf("(%d,%d): got %g, expected %g\n", y, x, v, i)
				}
				i++
			} else if v != -1 {
				t.Fatalf("(%d,%d): expected fill value, got %g\n", y, x, v)
			}
		}
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, format.CreateOptions{
		Shape:      []int64{10, 10},
		ChunkShape: []int64{5, 5},
		DType:      bio.T_uint8,
		Order:      bio.MustAxisOrder("YX"),
	}, Config{})
	if _, err := e.Read(ctx, bio.NewRegion(bio.NewRange(0, 10), bio.NewRange(0, 9))); !bio.IsOutOfRange(err) {
		t.Errorf("expected out of range, got %v\n", err)
	}
	if _, err := e.Read(ctx, bio.NewRegion(bio.NewRange(0, 9), bio.NewRange(0, 9), bio.Index(1))); !bio.IsOutOfRange(err) {
		t.Errorf("expected out of range on undeclared axis, got %v\n", err)
	}
	req := bio.NewRegion(bio.NewRange(0, 4), bio.NewRange(0, 4))
	if err := e.Write(ctx, req, bio.NewArray(bio.T_uint8, bio.NewShape(4, 5, 1, 1, 1))); !bio.IsShapeMismatch(err) {
		t.Errorf("expected shape mismatch, got %v\n", err)
	}
	if err := e.Write(ctx, req, bio.NewArray(bio.T_uint16, req.Shape())); !bio.IsShapeMismatch(err) {
		t.Errorf("expected dtype mismatch, got %v\n", err)
	}
}

// The summed 3-channel image must be exactly three times a single channel regardless of
// how the channels were written.
func TestChannelSlicedWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large image test in short mode")
	}
	ctx := context.Background()
	const width, height = 2700, 2702
	e := newEngine(t, format.CreateOptions{
		Shape:      []int64{1, 3, 1, height, width},
		ChunkShape: []int64{1, 1, 1, 1024, 1024},
		DType:      bio.T_uint8,
		Order:      bio.MustAxisOrder("TCZYX"),
		Compressor: codec.Spec{Name: "blosc", CName: "lz4", Level: 5, Shuffle: 1},
	}, Config{})
	plane := bio.NewArray(bio.T_uint8, bio.NewShape(width, height, 1, 1, 1))
	for i := range plane.Data {
		plane.Data[i] = uint8((i*7 + i/width*13) % 251)
	}
	single := plane.Sum()
	rows, cols := bio.NewRange(0, height-1), bio.NewRange(0, width-1)
	for c := int64(0); c < 3; c++ {
		if err := e.Write(ctx, bio.NewRegion(rows, cols, bio.Index(0), bio.Index(c)), plane); err != nil {
			t.Fatalf("write channel %d: %v\n", c, err)
		}
	}
	all, err := e.Read(ctx, bio.NewRegion(rows, cols, bio.Index(0), bio.NewRange(0, 2)))
	if err != nil {
		t.Fatalf("read: %v\n", err)
	}
	if all.Sum() != 3*single {
		t.Fatalf("3-channel sum %g is not 3 x %g\n", all.Sum(), single)
	}
	one, err := e.Read(ctx, bio.NewRegion(rows, cols, bio.Index(0), bio.Index(1)))
	if err != nil {
		t.Fatalf("read channel: %v\n", err)
	}
	if one.Sum() != single {
		t.Fatalf("channel 1 sum %g, expected %g\n", one.Sum(), single)
	}
}

func TestConcurrentSameChunkWrites(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, format.CreateOptions{
		Shape:      []int64{32, 32},
		ChunkShape: []int64{32, 32},
		DType:      bio.T_uint8,
		Order:      bio.MustAxisOrder("YX"),
	}, Config{})
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for y := int64(0); y < 32; y++ {
		wg.Add(1)
		go func(y int64) {
			defer wg.Done()
			row := bio.NewArray(bio.T_uint8, bio.NewShape(32, 1, 1, 1, 1))
			for i := range row.Data {
				row.Data[i] = uint8(y + 1)
			}
			if err := e.Write(ctx, bio.NewRegion(bio.Index(y), bio.NewRange(0, 31)), row); err != nil {
				errs <- err
			}
		}(y)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent write: %v\n", err)
	}
	got, err := e.Read(ctx, bio.FullRegion(e.Descriptor().Extents))
	if err != nil {
		t.Fatalf("read: %v\n", err)
	}
	for y := int64(0); y < 32; y++ {
		for x := int64(0); x < 32; x++ {
			if v := got.At(0, 0, 0, y, x); v != float64(y+1) {
				t.Fatalf("lost write at (%d,%d): got %g\n", y, x, v)
			}
		}
	}
	if e.locks.Len() != 0 {
		t.Fatalf("lock table should be empty, has %d keys\n", e.locks.Len())
	}
}

func TestPrefetchAndCache(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	e := newEngine(t, format.CreateOptions{
		Shape:      []int64{64, 64},
		ChunkShape: []int64{16, 16},
		DType:      bio.T_uint16,
		Order:      bio.MustAxisOrder("YX"),
	}, Config{CacheBytes: 8 << 20, Metrics: metrics})
	full := bio.FullRegion(e.Descriptor().Extents)
	src := randomArray(bio.T_uint16, full.Shape(), 3)
	if err := e.Write(ctx, full, src); err != nil {
		t.Fatalf("write: %v\n", err)
	}
	if got := testutil.ToFloat64(metrics.ChunkWrites); got != 16 {
		t.Fatalf("expected 16 chunk writes, got %g\n", got)
	}
	if got := testutil.ToFloat64(metrics.ReadModifyWrites); got != 0 {
		t.Fatalf("full-image write should not read chunks, got %g read-modify-writes\n", got)
	}

	tiles, err := Tiles(e.Descriptor().Extents, 32, 32, 0, 0)
	if err != nil || len(tiles) != 4 {
		t.Fatalf("expected 4 tiles, got %d (%v)\n", len(tiles), err)
	}
	for _, tile := range tiles {
		e.Prefetch(tile)
	}
	e.Wait()
	if n := e.cache.entries(); n != 16 {
		t.Fatalf("expected 16 cached chunks, got %d\n", n)
	}
	reads := testutil.ToFloat64(metrics.ChunkReads.WithLabelValues("found"))
	for _, tile := range tiles {
		got, err := e.Read(ctx, tile)
		if err != nil {
			t.Fatalf("read tile: %v\n", err)
		}
		expected, _ := src.Sub(tile)
		if !got.Equal(expected) {
			t.Fatalf("tile %s differs\n", tile)
		}
	}
	if after := testutil.ToFloat64(metrics.ChunkReads.WithLabelValues("found")); after != reads {
		t.Fatalf("prefetched reads went to the store: %g store reads after prefetch\n", after-reads)
	}
	if hits := testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("hit")); hits != 16 {
		t.Fatalf("expected 16 cache hits, got %g\n", hits)
	}

	// Writes invalidate cached chunks.
	patch := bio.NewRegion(bio.NewRange(0, 3), bio.NewRange(0, 3))
	zeros := bio.NewArray(bio.T_uint16, patch.Shape())
	if err := e.Write(ctx, patch, zeros); err != nil {
		t.Fatalf("patch write: %v\n", err)
	}
	got, err := e.Read(ctx, patch)
	if err != nil {
		t.Fatalf("read patch: %v\n", err)
	}
	if got.Sum() != 0 {
		t.Fatalf("read stale cached chunk after write\n")
	}
}

func TestTiles(t *testing.T) {
	tiles, err := Tiles(bio.NewShape(10, 7, 2, 1, 1), 4, 4, 0, 0)
	if err != nil {
		t.Fatalf("tiles: %v\n", err)
	}
	// 2 rows x 3 cols per plane, 2 planes
	if len(tiles) != 12 {
		t.Fatalf("expected 12 tiles, got %d\n", len(tiles))
	}
	last := tiles[len(tiles)-1]
	if last.Range(bio.AxisZ).Start != 1 || last.Range(bio.AxisY) != bio.NewRange(4, 6) || last.Range(bio.AxisX) != bio.NewRange(8, 9) {
		t.Fatalf("bad last tile %s\n", last)
	}
	if _, err := Tiles(bio.NewShape(10, 7, 1, 1, 1), 0, 4, 0, 0); !bio.IsInvalidInput(err) {
		t.Fatalf("expected invalid input for empty tile, got %v\n", err)
	}
}

func TestLockTable(t *testing.T) {
	locks := NewLockTable()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock("a")
			counter++
			locks.Unlock("a")
		}()
	}
	wg.Wait()
	if counter != 50 || locks.Len() != 0 {
		t.Fatalf("counter %d, %d keys left\n", counter, locks.Len())
	}
}
