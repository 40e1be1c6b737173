package engine

import (
	"github.com/janelia-flyem/bfio/bio"
)

// Prefetch starts loading the chunks covering req into the chunk cache and returns
// without waiting.  Failures are logged and otherwise ignored; a later read of the same
// region fetches anything that is missing.  Without a cache Prefetch does nothing.
func (e *Engine) Prefetch(req bio.RegionRequest) {
	if e.cache == nil {
		return
	}
	if err := req.Validate(e.desc.Extents); err != nil {
		bio.Debugf("Skipping prefetch of %s: %v\n", req, err)
		return
	}
	var coords [][]int64
	for _, part := range covering(e.desc, req) {
		if _, hit := e.cache.get(part.key()); !hit {
			coords = append(coords, part.coord)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.wg.Add(len(coords))
	e.pending.Add(len(coords))
	for _, coord := range coords {
		go func(coord []int64) {
			defer e.wg.Done()
			defer e.pending.Done()
			select {
			case e.prefetch <- struct{}{}:
			case <-e.ctx.Done():
				return
			}
			defer func() { <-e.prefetch }()
			if _, err := e.chunk(e.ctx, coord); err != nil && e.ctx.Err() == nil {
				bio.Debugf("Prefetch of chunk %v in %s failed: %v\n", coord, e.desc, err)
			}
		}(coord)
	}
}

// Wait blocks until all scheduled prefetches have finished.  It must not be called
// concurrently with Prefetch.
func (e *Engine) Wait() {
	e.pending.Wait()
}

// Tiles partitions an image into raster-order 2d tile requests, one set per (T, C, Z)
// plane.  Tiles are tileRows x tileCols in size and start every rowStride rows and
// colStride cols; tiles at the image edge are clipped.
func Tiles(extents bio.Shape, tileRows, tileCols, rowStride, colStride int64) ([]bio.RegionRequest, error) {
	if tileRows < 1 || tileCols < 1 {
		return nil, bio.NewError(bio.CodeInvalidInput, "tile size %d x %d must be positive", tileRows, tileCols)
	}
	if rowStride <= 0 {
		rowStride = tileRows
	}
	if colStride <= 0 {
		colStride = tileCols
	}
	clip := func(start, size, extent int64) bio.Range {
		end := start + size - 1
		if end >= extent {
			end = extent - 1
		}
		return bio.NewRange(start, end)
	}
	var tiles []bio.RegionRequest
	for t := int64(0); t < extents.T(); t++ {
		for c := int64(0); c < extents.C(); c++ {
			for z := int64(0); z < extents.Z(); z++ {
				for y := int64(0); y < extents.Y(); y += rowStride {
					for x := int64(0); x < extents.X(); x += colStride {
						tiles = append(tiles, bio.NewRegion(
							clip(y, tileRows, extents.Y()),
							clip(x, tileCols, extents.X()),
							bio.Index(z), bio.Index(c), bio.Index(t)))
					}
				}
			}
		}
	}
	return tiles, nil
}
