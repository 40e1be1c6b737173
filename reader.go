package bfio

import (
	"context"
	"sync"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/engine"
	"github.com/janelia-flyem/bfio/format"
)

// Reader is an image opened for reading.  It is safe for concurrent use.
type Reader struct {
	path   string
	engine *engine.Engine

	mu    sync.Mutex
	tiles []bio.RegionRequest
}

// OpenReader opens the image at path.  With fileType bio.Auto the format is detected
// from the stored signature.  axisHint, if not empty, gives the dimension order of a
// Zarr array whose rank matches it; otherwise stored dimension names are used, or an
// order is assumed from the rank.
func OpenReader(ctx context.Context, path string, fileType bio.FileType, axisHint string, opts ...Option) (*Reader, error) {
	hint, err := bio.ParseAxisOrderHint(axisHint)
	if err != nil {
		return nil, err
	}
	s := newSettings(opts)
	array, err := format.Open(ctx, path, fileType, hint, s.storeConfig())
	if err != nil {
		return nil, err
	}
	r := &Reader{
		path:   path,
		engine: engine.New(array, s.engineConfig()),
	}
	bio.Infof("Opened %s for reading: %s\n", path, array.Descriptor())
	return r, nil
}

// Descriptor returns the image metadata.
func (r *Reader) Descriptor() *bio.ImageDescriptor {
	return r.engine.Descriptor()
}

func (r *Reader) Width() int64      { return r.Descriptor().Width() }
func (r *Reader) Height() int64     { return r.Descriptor().Height() }
func (r *Reader) Depth() int64      { return r.Descriptor().Depth() }
func (r *Reader) Channels() int64   { return r.Descriptor().Channels() }
func (r *Reader) Tsteps() int64     { return r.Descriptor().Tsteps() }
func (r *Reader) TileWidth() int64  { return r.Descriptor().TileWidth() }
func (r *Reader) TileHeight() int64 { return r.Descriptor().TileHeight() }

// DataType returns the element type tag, e.g., "uint16".
func (r *Reader) DataType() string {
	return r.Descriptor().DType.String()
}

// Read returns the region given by rows and cols and, optionally, layers, channels and
// tsteps, in that order.  Omitted axes select index 0.
func (r *Reader) Read(ctx context.Context, rows, cols bio.Range, rest ...bio.Range) (*bio.Array, error) {
	return r.ReadRegion(ctx, bio.NewRegion(rows, cols, rest...))
}

// ReadRegion returns the requested region as a (T, C, Z, Y, X) array.
func (r *Reader) ReadRegion(ctx context.Context, req bio.RegionRequest) (*bio.Array, error) {
	return r.engine.Read(ctx, req)
}

// ScheduleTiledReads partitions the image into tiles of tileRows x tileCols, placed every
// rowStride rows and colStride cols in raster order over each (T, C, Z) plane, and starts
// reading their chunks into the cache in the background.  A stride of zero equals the
// tile size.  The tile list is returned and kept for ReadTile.
func (r *Reader) ScheduleTiledReads(tileRows, tileCols, rowStride, colStride int64) ([]bio.RegionRequest, error) {
	tiles, err := engine.Tiles(r.Descriptor().Extents, tileRows, tileCols, rowStride, colStride)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.tiles = tiles
	r.mu.Unlock()
	for _, tile := range tiles {
		r.engine.Prefetch(tile)
	}
	bio.Debugf("Scheduled %d tiled reads of %s\n", len(tiles), r.path)
	return tiles, nil
}

// TileRequests returns the tiles of the last ScheduleTiledReads call.
func (r *Reader) TileRequests() []bio.RegionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tiles
}

// ReadTile reads the i-th scheduled tile.
func (r *Reader) ReadTile(ctx context.Context, i int) (*bio.Array, error) {
	r.mu.Lock()
	if i < 0 || i >= len(r.tiles) {
		n := len(r.tiles)
		r.mu.Unlock()
		return nil, bio.NewError(bio.CodeOutOfRange, "tile %d requested but %d tiles scheduled", i, n)
	}
	tile := r.tiles[i]
	r.mu.Unlock()
	return r.engine.Read(ctx, tile)
}

// Close stops any prefetching and releases the image.
func (r *Reader) Close() error {
	return r.engine.Close()
}

func (r *Reader) String() string {
	return r.path + ": " + r.Descriptor().String()
}
