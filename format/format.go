/*
Package format dispatches chunked array access to the supported on-disk formats:
OME-TIFF, Zarr v2 and Zarr v3.  Every format yields an Array that reads and writes
whole decoded chunks addressed by grid coordinates in the array's declared order.
*/
package format

import (
	"context"
	"os"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/codec"
	"github.com/janelia-flyem/bfio/format/tiff"
	"github.com/janelia-flyem/bfio/format/zarr"
	"github.com/janelia-flyem/bfio/storage"
)

// Array is an open chunked image.
type Array interface {
	Descriptor() *bio.ImageDescriptor

	// ReadChunk returns the decoded chunk at a grid coordinate.  A chunk that was never
	// written is returned with found false and nil data.
	ReadChunk(ctx context.Context, coord []int64) (data []byte, found bool, err error)

	// WriteChunk stores a complete decoded chunk.
	WriteChunk(ctx context.Context, coord []int64, data []byte) error

	// Close waits for outstanding operations and releases the underlying store.
	Close() error
}

// Probe inspects what is stored at location: a Zarr v3 or v2 signature, or a TIFF
// header.  Anything else is UnsupportedFormat.
func Probe(ctx context.Context, location string, config storage.Config) (bio.FileType, error) {
	config.Create = false
	if path, local := storage.LocalPath(location); local {
		fi, err := os.Stat(path)
		if err != nil {
			return bio.Auto, bio.WrapError(err, bio.CodeStoreIO, "cannot open %q", location)
		}
		if !fi.IsDir() {
			return probeTIFF(ctx, location, config)
		}
	}
	store, err := storage.Open(ctx, location, config)
	if err != nil {
		return bio.Auto, err
	}
	version, err := zarr.Detect(ctx, store)
	store.Close()
	if err != nil {
		return bio.Auto, err
	}
	switch version {
	case 3:
		return bio.OmeZarrV3, nil
	case 2:
		return bio.OmeZarrV2, nil
	}
	if _, local := storage.LocalPath(location); local {
		return bio.Auto, bio.NewError(bio.CodeUnsupportedFormat, "no image found in directory %q", location)
	}
	return probeTIFF(ctx, location, config)
}

func probeTIFF(ctx context.Context, location string, config storage.Config) (bio.FileType, error) {
	dir, key := storage.Split(location)
	if key == "" {
		return bio.Auto, bio.NewError(bio.CodeUnsupportedFormat, "no image found at %q", location)
	}
	store, err := storage.Open(ctx, dir, config)
	if err != nil {
		return bio.Auto, err
	}
	defer store.Close()
	header, err := store.GetRange(ctx, key, 0, 4).Wait(ctx)
	if err != nil {
		return bio.Auto, err
	}
	if tiff.IsTIFF(header) {
		return bio.OmeTiff, nil
	}
	return bio.Auto, bio.NewError(bio.CodeUnsupportedFormat, "unrecognized image format at %q", location)
}

// Open opens an existing image for reading.  With fileType Auto the format is probed.
// hint, if not zero, overrides the dimension order of Zarr arrays of the same rank.
func Open(ctx context.Context, location string, fileType bio.FileType, hint bio.AxisOrder,
	config storage.Config) (Array, error) {

	if fileType == bio.Auto {
		var err error
		if fileType, err = Probe(ctx, location, config); err != nil {
			return nil, err
		}
	}
	switch fileType {
	case bio.OmeTiff:
		r, err := tiff.Open(ctx, location, config)
		if err != nil {
			return nil, err
		}
		return r, nil
	case bio.OmeZarrV2, bio.OmeZarrV3:
		a, err := zarr.Open(ctx, location, hint, config)
		if err != nil {
			return nil, err
		}
		if want := zarrVersion(fileType); a.Version() != want {
			bio.Warningf("Requested zarr v%d but found v%d at %s\n", want, a.Version(), location)
		}
		return a, nil
	}
	return nil, bio.NewError(bio.CodeUnsupportedFormat, "unsupported file type %s", fileType)
}

// CreateOptions describe a new image.  Shape and ChunkShape follow Order.
type CreateOptions struct {
	Shape      []int64
	ChunkShape []int64
	DType      bio.DataType
	Order      bio.AxisOrder

	// FileType selects the format; Auto creates a Zarr v2 array.
	FileType bio.FileType

	FillValue float64

	// Compressor is the Zarr chunk compressor.  A zero Spec selects
	// zarr.DefaultCompressor; use codec.Null for uncompressed chunks.
	Compressor codec.Spec

	// Separator joins Zarr chunk coordinates in keys.
	Separator string

	// Level is the TIFF deflate level.
	Level int

	Store storage.Config
}

// Create makes a new image at location.  The dimension order, shape and chunk shape
// are validated before anything is written.
func Create(ctx context.Context, location string, opts CreateOptions) (Array, error) {
	if opts.Order.IsZero() {
		return nil, bio.NewError(bio.CodeInvalidDimensionOrder, "a dimension order is required to create %q", location)
	}
	fileType := opts.FileType
	if fileType == bio.Auto {
		fileType = bio.OmeZarrV2
	}
	switch fileType {
	case bio.OmeTiff:
		w, err := tiff.Create(ctx, location, tiff.Options{
			Shape:      opts.Shape,
			ChunkShape: opts.ChunkShape,
			DType:      opts.DType,
			Order:      opts.Order,
			Level:      opts.Level,
			Store:      opts.Store,
		})
		if err != nil {
			return nil, err
		}
		return w, nil
	case bio.OmeZarrV2, bio.OmeZarrV3:
		compressor := opts.Compressor
		if compressor == (codec.Spec{}) {
			compressor = zarr.DefaultCompressor
		}
		a, err := zarr.Create(ctx, location, zarrVersion(fileType), zarr.Options{
			Shape:      opts.Shape,
			ChunkShape: opts.ChunkShape,
			DType:      opts.DType,
			Order:      opts.Order,
			FillValue:  opts.FillValue,
			Compressor: compressor,
			Separator:  opts.Separator,
			Store:      opts.Store,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, bio.NewError(bio.CodeUnsupportedFormat, "cannot create file type %s", fileType)
}

func zarrVersion(ft bio.FileType) int {
	if ft == bio.OmeZarrV3 {
		return 3
	}
	return 2
}
