/*
Package engine turns region reads and writes into whole-chunk operations on a
format.Array.  A request is projected onto the chunk grid axis by axis; the covering
chunks are then fetched, or read-modify-written, concurrently.  Reads pass through a
chunk cache shared with prefetching, and writes to the same chunk are serialized by a
keyed lock table.
*/
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/format"
)

// DefaultConcurrency is the number of chunks processed at once by a request.
const DefaultConcurrency = 16

// Config tunes an engine.
type Config struct {
	// Concurrency bounds the number of chunks a single request processes at once.
	Concurrency int

	// CacheBytes is the chunk cache size.  Zero disables caching and prefetch.
	CacheBytes int64

	// PrefetchConcurrency bounds the number of chunks prefetched at once.
	PrefetchConcurrency int

	Metrics *Metrics
}

// Engine performs region I/O against one open array.
type Engine struct {
	array   format.Array
	desc    *bio.ImageDescriptor
	config  Config
	cache   *chunkCache
	locks   *LockTable
	metrics *Metrics

	fillChunk []byte

	// handle context, cancelled by Close to stop prefetching
	ctx      context.Context
	cancel   context.CancelFunc
	prefetch chan struct{}
	wg       sync.WaitGroup // requests and prefetches in progress
	pending  sync.WaitGroup // prefetches only
	mu       sync.Mutex
	closed   bool

	closeOnce sync.Once
	closeErr  error
}

// New returns an engine that owns array and closes it on Close.
func New(array format.Array, config Config) *Engine {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.PrefetchConcurrency <= 0 {
		config.PrefetchConcurrency = config.Concurrency
	}
	desc := array.Descriptor()
	e := &Engine{
		array:     array,
		desc:      desc,
		config:    config,
		cache:     newChunkCache(config.CacheBytes),
		locks:     NewLockTable(),
		metrics:   config.Metrics,
		fillChunk: desc.DType.FillBytes(desc.ChunkBytes()/int64(desc.DType.Bytes()), desc.FillValue),
		prefetch:  make(chan struct{}, config.PrefetchConcurrency),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	if config.CacheBytes > 0 {
		bio.Debugf("Chunk cache of %s for %s\n", humanize.IBytes(uint64(config.CacheBytes)), desc)
	}
	return e
}

// Descriptor returns the metadata of the engine's array.
func (e *Engine) Descriptor() *bio.ImageDescriptor {
	return e.desc
}

// Array returns the underlying chunked array.
func (e *Engine) Array() format.Array {
	return e.array
}

// chunk returns the decoded chunk at coord, through the cache if there is one.  A cached
// fetch runs on the engine's context so a caller giving up does not fail others waiting
// on the same chunk; each caller waits on its own ctx.
func (e *Engine) chunk(ctx context.Context, coord []int64) (cachedChunk, error) {
	key := coordKey(coord)
	if e.cache == nil {
		data, found, err := e.array.ReadChunk(ctx, coord)
		if err == nil {
			e.metrics.chunkRead(found, len(data))
		}
		return cachedChunk{data, found}, err
	}
	if c, hit := e.cache.get(key); hit {
		e.metrics.cacheLookup(true)
		return c, nil
	}
	e.metrics.cacheLookup(false)

	type result struct {
		c   cachedChunk
		err error
	}
	done := make(chan result, 1)
	// The caller is registered in e.wg, so the count is positive here.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		v, err := e.cache.flight.Do(key, func() (interface{}, error) {
			if c, hit := e.cache.get(key); hit {
				return c, nil
			}
			data, found, err := e.array.ReadChunk(e.ctx, coord)
			if err != nil {
				return nil, err
			}
			e.metrics.chunkRead(found, len(data))
			c := cachedChunk{data, found}
			e.cache.put(key, c)
			return c, nil
		})
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{c: v.(cachedChunk)}
	}()
	select {
	case r := <-done:
		return r.c, r.err
	case <-ctx.Done():
		return cachedChunk{}, ctx.Err()
	}
}

// begin registers a request so Close waits for it.  Callers must call e.wg.Done when
// begin succeeds.
func (e *Engine) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return bio.NewError(bio.CodeClosed, "image %s is closed", e.desc)
	}
	e.wg.Add(1)
	return nil
}

// Read returns the requested region as an array shaped by the request's spans in
// (T, C, Z, Y, X) order.  Chunks that were never written read as the fill value.  Close
// cancels reads in progress.
func (e *Engine) Read(ctx context.Context, req bio.RegionRequest) (*bio.Array, error) {
	if err := req.Validate(e.desc.Extents); err != nil {
		return nil, err
	}
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.wg.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	start := time.Now()
	defer e.metrics.observeRequest("read", start)

	out := bio.NewArray(e.desc.DType, req.Shape())
	parts := covering(e.desc, req)
	elem := int64(e.desc.DType.Bytes())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for _, part := range parts {
		part := part
		g.Go(func() error {
			c, err := e.chunk(gctx, part.coord)
			if err != nil {
				return err
			}
			src := c.data
			if !c.found {
				src = e.fillChunk
			}
			l := newLayout(e.desc, req, out.Shape, part)
			// Parts cover disjoint regions of the output.
			stridedCopy(out.Data, l.outOff, l.outStep, src, l.chunkOff, l.chunkStep, l.counts, elem)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	bio.Debugf("Read %s from %d chunks of %s\n", req, len(parts), e.desc)
	return out, nil
}

// Write stores src into the requested region.  src must have the request's span shape
// and the image's data type.  Chunks fully covered by a unit-stride request are written
// without being read; others are read, overlaid and written back.  Writes to the same
// chunk are serialized.  Close waits for writes in progress to finish.
func (e *Engine) Write(ctx context.Context, req bio.RegionRequest, src *bio.Array) error {
	if err := req.Validate(e.desc.Extents); err != nil {
		return err
	}
	if src.DType != e.desc.DType {
		return bio.NewError(bio.CodeShapeMismatch, "cannot write %s data to %s image", src.DType, e.desc.DType)
	}
	if src.Shape != req.Shape() {
		return bio.NewError(bio.CodeShapeMismatch, "data of shape %s does not match request %s of shape %s",
			src.Shape, req, req.Shape())
	}
	if want := src.Shape.Prod() * int64(src.DType.Bytes()); int64(len(src.Data)) != want {
		return bio.NewError(bio.CodeShapeMismatch, "data has %d bytes, expected %d", len(src.Data), want)
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.wg.Done()
	start := time.Now()
	defer e.metrics.observeRequest("write", start)

	parts := covering(e.desc, req)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for _, part := range parts {
		part := part
		g.Go(func() error {
			return e.writePart(gctx, req, src, part)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	bio.Debugf("Wrote %s to %d chunks of %s\n", req, len(parts), e.desc)
	return nil
}

func (e *Engine) writePart(ctx context.Context, req bio.RegionRequest, src *bio.Array, part chunkPart) error {
	key := part.key()
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	var buf []byte
	rmw := !coversChunk(e.desc, req, part)
	if rmw {
		data, found, err := e.array.ReadChunk(ctx, part.coord)
		if err != nil {
			return err
		}
		e.metrics.chunkRead(found, len(data))
		if found {
			buf = data
		}
	}
	if buf == nil {
		buf = make([]byte, len(e.fillChunk))
		copy(buf, e.fillChunk)
	}
	l := newLayout(e.desc, req, src.Shape, part)
	stridedCopy(buf, l.chunkOff, l.chunkStep, src.Data, l.outOff, l.outStep, l.counts, int64(src.DType.Bytes()))
	if err := e.array.WriteChunk(ctx, part.coord, buf); err != nil {
		return err
	}
	e.cache.remove(key)
	e.metrics.chunkWrite(len(buf), rmw)
	return nil
}

// Close cancels reads and prefetches, waits for them and for writes in progress, and
// then closes the array.  Later requests fail with bio.CodeClosed.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.cancel()
		e.wg.Wait()
		e.cache.clear()
		e.closeErr = e.array.Close()
	})
	return e.closeErr
}
