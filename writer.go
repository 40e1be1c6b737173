package bfio

import (
	"context"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/engine"
	"github.com/janelia-flyem/bfio/format"
)

// Writer is a newly created image.  Writes to different chunks proceed in parallel and
// writes touching the same chunk are serialized, so a Writer may be shared by goroutines.
type Writer struct {
	path   string
	engine *engine.Engine
}

// CreateWriter creates an image at path.  shape and chunkShape are given in axisOrder
// order; dtype is a tag such as "uint8" or "float32".  bio.Auto creates a Zarr v2
// array.  The arguments are fully validated before anything is written.
func CreateWriter(ctx context.Context, path string, shape, chunkShape []int64, dtype, axisOrder string,
	fileType bio.FileType, opts ...Option) (*Writer, error) {

	order, err := bio.ParseAxisOrder(axisOrder)
	if err != nil {
		return nil, err
	}
	t, err := bio.ParseDataType(dtype)
	if err != nil {
		return nil, err
	}
	s := newSettings(opts)
	array, err := format.Create(ctx, path, format.CreateOptions{
		Shape:      shape,
		ChunkShape: chunkShape,
		DType:      t,
		Order:      order,
		FileType:   fileType,
		Compressor: s.compressorSpec(),
		Separator:  s.config.Zarr.Separator,
		Level:      s.config.Tiff.Level,
		Store:      s.storeConfig(),
	})
	if err != nil {
		return nil, err
	}
	ec := s.engineConfig()
	ec.CacheBytes = 0
	w := &Writer{
		path:   path,
		engine: engine.New(array, ec),
	}
	bio.Infof("Created %s: %s\n", path, array.Descriptor())
	return w, nil
}

// Descriptor returns the metadata of the image being written.
func (w *Writer) Descriptor() *bio.ImageDescriptor {
	return w.engine.Descriptor()
}

// Write stores src, shaped as the (T, C, Z, Y, X) spans of the given rows, cols and
// optional layers, channels and tsteps.
func (w *Writer) Write(ctx context.Context, src *bio.Array, rows, cols bio.Range, rest ...bio.Range) error {
	return w.WriteRegion(ctx, bio.NewRegion(rows, cols, rest...), src)
}

// WriteRegion stores src into the requested region.
func (w *Writer) WriteRegion(ctx context.Context, req bio.RegionRequest, src *bio.Array) error {
	return w.engine.Write(ctx, req, src)
}

// WriteImage stores src as the whole image.
func (w *Writer) WriteImage(ctx context.Context, src *bio.Array) error {
	return w.engine.Write(ctx, bio.FullRegion(w.Descriptor().Extents), src)
}

// Close waits for outstanding writes and finalizes the image.  For TIFF output the file
// itself is written here.
func (w *Writer) Close() error {
	return w.engine.Close()
}

func (w *Writer) String() string {
	return w.path + ": " + w.Descriptor().String()
}
