/*
Package zarr reads and writes Zarr v2 and v3 arrays.  A v2 array is signed by its
".zarray" metadata file with dimension names in ".zattrs"; a v3 array is signed by a
single "zarr.json" manifest.  Chunks are stored whole, padded with the fill value at
the array edges, under keys derived from their grid coordinates.
*/
package zarr

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/codec"
	"github.com/janelia-flyem/bfio/storage"
)

const (
	V2ArrayFile    = ".zarray"
	V2AttrsFile    = ".zattrs"
	V3ManifestFile = "zarr.json"
)

// Options describe a new array.
type Options struct {
	Shape      []int64
	ChunkShape []int64
	DType      bio.DataType
	Order      bio.AxisOrder
	FillValue  float64
	Compressor codec.Spec

	// Separator joins chunk coordinates in keys.  Defaults to "." for v2 and "/" for v3.
	Separator string

	Store storage.Config
}

// DefaultCompressor is blosc with lz4 and byte shuffling.
var DefaultCompressor = codec.Spec{Name: "blosc", CName: "lz4", Level: 5, Shuffle: 1}

// Array is an open Zarr array.
type Array struct {
	desc      *bio.ImageDescriptor
	store     storage.Store
	version   int
	chain     codec.Chain
	keyPrefix string
	separator string
	bigEndian bool

	fillChunk []byte
}

// Detect returns 3 or 2 if the store holds a v3 or v2 array signature, else 0.
func Detect(ctx context.Context, store storage.Store) (int, error) {
	found, err := store.Exists(ctx, V3ManifestFile)
	if err != nil {
		return 0, err
	}
	if found {
		return 3, nil
	}
	found, err = store.Exists(ctx, V2ArrayFile)
	if err != nil {
		return 0, err
	}
	if found {
		return 2, nil
	}
	return 0, nil
}

// Create makes a new array of the given version at location, replacing any array
// already stored there.  All arguments are validated before anything is written.
func Create(ctx context.Context, location string, version int, opts Options) (*Array, error) {
	if version != 2 && version != 3 {
		return nil, bio.NewError(bio.CodeUnsupportedFormat, "unsupported zarr version %d", version)
	}
	if opts.Order.IsZero() {
		return nil, bio.NewError(bio.CodeInvalidDimensionOrder, "zarr array requires a dimension order")
	}
	desc, err := bio.NewImageDescriptor(opts.Order, opts.Shape, opts.ChunkShape, opts.DType)
	if err != nil {
		return nil, err
	}
	desc.FillValue = opts.FillValue
	if version == 2 {
		desc.Kind = bio.OmeZarrV2
	} else {
		desc.Kind = bio.OmeZarrV3
	}
	sep := opts.Separator
	switch {
	case sep == "" && version == 2:
		sep = "."
	case sep == "":
		sep = "/"
	case sep != "." && sep != "/":
		return nil, bio.NewError(bio.CodeInvalidInput, "bad chunk key separator %q", sep)
	}
	spec := opts.Compressor
	spec.TypeSize = opts.DType.Bytes()
	compressor, err := codec.New(spec)
	if err != nil {
		return nil, err
	}
	desc.Compressor = spec.String()
	a := &Array{
		desc:      desc,
		version:   version,
		separator: sep,
		chain:     codec.Chain{compressor},
	}
	if version == 3 {
		a.keyPrefix = "c" + sep
	}
	var meta []byte
	var attrs []byte
	if version == 2 {
		meta, attrs, err = encodeV2(desc, spec, sep)
	} else {
		meta, err = encodeV3(desc, spec, sep)
	}
	if err != nil {
		return nil, err
	}

	storeConfig := opts.Store
	storeConfig.Create = true
	store, err := storage.Open(ctx, location, storeConfig)
	if err != nil {
		return nil, err
	}
	a.store = store
	if err := a.clear(ctx); err != nil {
		store.Close()
		return nil, err
	}
	futures := []*storage.Future{}
	if version == 2 {
		futures = append(futures, store.Put(ctx, V2ArrayFile, meta), store.Put(ctx, V2AttrsFile, attrs))
	} else {
		futures = append(futures, store.Put(ctx, V3ManifestFile, meta))
	}
	if err := storage.WaitAll(ctx, futures...); err != nil {
		store.Close()
		return nil, err
	}
	a.fillChunk = desc.DType.FillBytes(desc.ChunkBytes()/int64(desc.DType.Bytes()), desc.FillValue)
	bio.Infof("Created zarr v%d array at %s: %s\n", version, location, desc)
	return a, nil
}

// clear removes the other version's signature and, if an array already exists here,
// all of its keys.
func (a *Array) clear(ctx context.Context) error {
	existing, err := Detect(ctx, a.store)
	if err != nil {
		return err
	}
	if existing == 0 {
		for _, key := range []string{V2ArrayFile, V2AttrsFile, V3ManifestFile} {
			if err := a.store.Delete(ctx, key); err != nil {
				return err
			}
		}
		return nil
	}
	keys, err := a.store.Keys(ctx, "")
	if err != nil {
		return err
	}
	bio.Debugf("Removing %d keys of existing zarr v%d array at %s\n", len(keys), existing, a.store)
	for _, key := range keys {
		if err := a.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Open opens an existing v2 or v3 array.  The dimension order is taken from hint when
// its length matches the array rank, else from stored dimension names, else guessed
// from the rank.
func Open(ctx context.Context, location string, hint bio.AxisOrder, config storage.Config) (*Array, error) {
	config.Create = false
	store, err := storage.Open(ctx, location, config)
	if err != nil {
		return nil, err
	}
	a, err := open(ctx, store, hint)
	if err != nil {
		store.Close()
		return nil, err
	}
	bio.Debugf("Opened zarr v%d array at %s: %s\n", a.version, location, a.desc)
	return a, nil
}

func open(ctx context.Context, store storage.Store, hint bio.AxisOrder) (*Array, error) {
	version, err := Detect(ctx, store)
	if err != nil {
		return nil, err
	}
	var a *Array
	var names []string
	switch version {
	case 2:
		a, names, err = decodeV2(ctx, store)
	case 3:
		a, names, err = decodeV3(ctx, store)
	default:
		return nil, bio.NewError(bio.CodeUnsupportedFormat, "no zarr array metadata in %s", store)
	}
	if err != nil {
		return nil, err
	}
	a.store = store
	a.version = version
	rank := len(a.desc.ArrayShape)
	order, err := discoverOrder(hint, names, rank)
	if err != nil {
		return nil, err
	}
	desc, err := bio.NewImageDescriptor(order, a.desc.ArrayShape, a.desc.ChunkShape, a.desc.DType)
	if err != nil {
		return nil, err
	}
	desc.Kind, desc.FillValue, desc.Compressor = a.desc.Kind, a.desc.FillValue, a.desc.Compressor
	a.desc = desc
	a.fillChunk = desc.DType.FillBytes(desc.ChunkBytes()/int64(desc.DType.Bytes()), desc.FillValue)
	return a, nil
}

func discoverOrder(hint bio.AxisOrder, names []string, rank int) (bio.AxisOrder, error) {
	if !hint.IsZero() {
		if hint.Len() == rank {
			return hint, nil
		}
		bio.Warningf("Ignoring dimension order %q for rank %d array\n", hint, rank)
	}
	if len(names) == rank {
		order, err := bio.AxisOrderFromNames(names)
		if err == nil {
			return order, nil
		}
		bio.Warningf("Ignoring stored dimension names %v: %v\n", names, err)
	}
	return bio.DefaultAxisOrder(rank)
}

// Version returns 2 or 3.
func (a *Array) Version() int {
	return a.version
}

// Descriptor returns the array's metadata.
func (a *Array) Descriptor() *bio.ImageDescriptor {
	return a.desc
}

// ChunkKey returns the store key of the chunk at the given grid coordinate.
func (a *Array) ChunkKey(coord []int64) string {
	parts := make([]string, len(coord))
	for i, c := range coord {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return a.keyPrefix + strings.Join(parts, a.separator)
}

// ReadChunk returns the decoded chunk at coord.  found is false and the data nil if
// the chunk has never been written.
func (a *Array) ReadChunk(ctx context.Context, coord []int64) (data []byte, found bool, err error) {
	key := a.ChunkKey(coord)
	encoded, err := a.store.Get(ctx, key).Wait(ctx)
	if err != nil {
		return nil, false, err
	}
	if encoded == nil {
		return nil, false, nil
	}
	data, err = a.chain.Decode(encoded, int(a.desc.ChunkBytes()))
	if err != nil {
		return nil, false, bio.StoreError(err, "decoding chunk %q of %s", key, a.store)
	}
	if a.bigEndian {
		a.desc.DType.SwapBytes(data)
	}
	return data, true, nil
}

// WriteChunk encodes and stores a full chunk.  Chunks holding only the fill value
// are removed instead of stored.
func (a *Array) WriteChunk(ctx context.Context, coord []int64, data []byte) error {
	key := a.ChunkKey(coord)
	if int64(len(data)) != a.desc.ChunkBytes() {
		return bio.NewError(bio.CodeShapeMismatch, "chunk %q has %d bytes, expected %d", key, len(data),
			a.desc.ChunkBytes())
	}
	if bytes.Equal(data, a.fillChunk) {
		return a.store.Delete(ctx, key)
	}
	if a.bigEndian {
		swapped := append([]byte(nil), data...)
		a.desc.DType.SwapBytes(swapped)
		data = swapped
	}
	encoded, err := a.chain.Encode(data)
	if err != nil {
		return bio.StoreError(err, "encoding chunk %q", key)
	}
	_, err = a.store.Put(ctx, key, encoded).Wait(ctx)
	return err
}

// Close waits for outstanding store operations and releases the store.
func (a *Array) Close() error {
	return a.store.Close()
}

func (a *Array) String() string {
	return fmt.Sprintf("zarr v%d array in %s", a.version, a.store)
}
