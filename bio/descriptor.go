package bio

import (
	"fmt"
	"strings"
)

// FileType tags the on-disk layout of an image.
type FileType uint8

const (
	// Auto probes an existing path for a known format signature.  Only valid for reads.
	Auto FileType = iota
	OmeTiff
	OmeZarrV2
	OmeZarrV3
)

// OmeZarr is the legacy name for OmeZarrV2.
const OmeZarr = OmeZarrV2

// ParseFileType accepts "tiff", "ometiff", "zarr", "omezarr", "zarr2", "omezarrv2", "zarr3",
// "omezarrv3" or "auto" in any case.  An empty string is Auto.
func ParseFileType(s string) (FileType, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "", "auto":
		return Auto, nil
	case "tiff", "tif", "ometiff", "ometif":
		return OmeTiff, nil
	case "zarr", "omezarr", "zarr2", "zarrv2", "omezarrv2":
		return OmeZarrV2, nil
	case "zarr3", "zarrv3", "omezarrv3":
		return OmeZarrV3, nil
	}
	return Auto, NewError(CodeUnsupportedFormat, "unknown file type %q", s)
}

func (ft FileType) String() string {
	switch ft {
	case Auto:
		return "Auto"
	case OmeTiff:
		return "OmeTiff"
	case OmeZarrV2:
		return "OmeZarrV2"
	case OmeZarrV3:
		return "OmeZarrV3"
	}
	return fmt.Sprintf("FileType(%d)", uint8(ft))
}

// ImageDescriptor is the immutable metadata of an open image.  Array and chunk shapes
// are in declared axis order; Extents is the canonical (T, C, Z, Y, X) view in which
// undeclared axes have extent 1.
type ImageDescriptor struct {
	Extents    Shape
	ArrayShape []int64
	ChunkShape []int64
	DType      DataType
	Order      AxisOrder
	Kind       FileType
	FillValue  float64
	Compressor string
}

// NewImageDescriptor validates the declared shapes against the axis order and returns
// a descriptor.  Every dimension must be positive and every chunk dimension must lie
// within [1, extent].
func NewImageDescriptor(order AxisOrder, shape, chunkShape []int64, dtype DataType) (*ImageDescriptor, error) {
	if order.IsZero() {
		return nil, NewError(CodeInvalidDimensionOrder, "image requires a dimension order")
	}
	if !dtype.Valid() {
		return nil, NewError(CodeInvalidInput, "invalid data type %s", dtype)
	}
	if len(shape) != order.Len() {
		return nil, NewError(CodeShapeMismatch, "shape %v has %d dimensions but order %q has %d",
			shape, len(shape), order, order.Len())
	}
	if len(chunkShape) != order.Len() {
		return nil, NewError(CodeInvalidChunkShape, "chunk shape %v has %d dimensions but order %q has %d",
			chunkShape, len(chunkShape), order, order.Len())
	}
	d := &ImageDescriptor{
		ArrayShape: append([]int64(nil), shape...),
		ChunkShape: append([]int64(nil), chunkShape...),
		DType:      dtype,
		Order:      order,
	}
	for a := range d.Extents {
		d.Extents[a] = 1
	}
	for i, a := range order.Axes() {
		if shape[i] < 1 {
			return nil, NewError(CodeShapeMismatch, "%s extent %d must be positive", a.Name(), shape[i])
		}
		if chunkShape[i] < 1 || chunkShape[i] > shape[i] {
			return nil, NewError(CodeInvalidChunkShape, "chunk size %d on axis %s must be in [1, %d]",
				chunkShape[i], a, shape[i])
		}
		d.Extents[a] = shape[i]
	}
	return d, nil
}

// Rank returns the number of declared dimensions.
func (d *ImageDescriptor) Rank() int {
	return d.Order.Len()
}

// CanonicalChunk returns the chunk shape in (T, C, Z, Y, X) order with undeclared axes 1.
func (d *ImageDescriptor) CanonicalChunk() Shape {
	s := Shape{1, 1, 1, 1, 1}
	for i, a := range d.Order.Axes() {
		s[a] = d.ChunkShape[i]
	}
	return s
}

// GridShape returns the number of chunks along each declared dimension.
func (d *ImageDescriptor) GridShape() []int64 {
	grid := make([]int64, len(d.ArrayShape))
	for i := range grid {
		grid[i] = (d.ArrayShape[i] + d.ChunkShape[i] - 1) / d.ChunkShape[i]
	}
	return grid
}

// NumChunks returns the total number of chunks in the grid.
func (d *ImageDescriptor) NumChunks() int64 {
	n := int64(1)
	for _, g := range d.GridShape() {
		n *= g
	}
	return n
}

// ChunkBytes returns the decoded size of one full chunk.
func (d *ImageDescriptor) ChunkBytes() int64 {
	n := int64(d.DType.Bytes())
	for _, c := range d.ChunkShape {
		n *= c
	}
	return n
}

func (d *ImageDescriptor) Width() int64    { return d.Extents[AxisX] }
func (d *ImageDescriptor) Height() int64   { return d.Extents[AxisY] }
func (d *ImageDescriptor) Depth() int64    { return d.Extents[AxisZ] }
func (d *ImageDescriptor) Channels() int64 { return d.Extents[AxisC] }
func (d *ImageDescriptor) Tsteps() int64   { return d.Extents[AxisT] }

// TileWidth returns the chunk extent along X.
func (d *ImageDescriptor) TileWidth() int64 { return d.CanonicalChunk()[AxisX] }

// TileHeight returns the chunk extent along Y.
func (d *ImageDescriptor) TileHeight() int64 { return d.CanonicalChunk()[AxisY] }

func (d *ImageDescriptor) String() string {
	return fmt.Sprintf("%s %s image, order %s, shape %v, chunks %v", d.Kind, d.DType, d.Order,
		d.ArrayShape, d.ChunkShape)
}
