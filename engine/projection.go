package engine

import (
	"strconv"
	"strings"

	"github.com/janelia-flyem/bfio/bio"
)

// span is the part of a strided range that falls within one chunk along one axis.
type span struct {
	chunk  int64 // chunk index along the axis
	start  int64 // first selected index relative to the chunk origin
	count  int64 // number of selected indices within the chunk
	offset int64 // position of the first selected index in the request's output
}

// project splits a range into per-chunk spans for chunks of the given size.
func project(r bio.Range, chunkSize int64) []span {
	step := r.Step()
	var spans []span
	for i := r.Start; i <= r.End; {
		c := i / chunkSize
		last := (c+1)*chunkSize - 1
		if last > r.End {
			last = r.End
		}
		count := (last-i)/step + 1
		spans = append(spans, span{
			chunk:  c,
			start:  i - c*chunkSize,
			count:  count,
			offset: (i - r.Start) / step,
		})
		i += count * step
	}
	return spans
}

// chunkPart is one covering chunk of a request and the spans that overlap it along
// each declared axis.
type chunkPart struct {
	coord []int64
	spans []span
}

func (p chunkPart) key() string {
	return coordKey(p.coord)
}

func coordKey(coord []int64) string {
	parts := make([]string, len(coord))
	for i, c := range coord {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return strings.Join(parts, ",")
}

// covering returns the Cartesian product of per-axis spans, i.e. every chunk touched by
// the request together with the overlapping spans.
func covering(desc *bio.ImageDescriptor, req bio.RegionRequest) []chunkPart {
	axes := desc.Order.Axes()
	perAxis := make([][]span, len(axes))
	total := 1
	for i, a := range axes {
		perAxis[i] = project(req.Range(a), desc.ChunkShape[i])
		total *= len(perAxis[i])
	}
	parts := make([]chunkPart, 0, total)
	idx := make([]int, len(axes))
	for n := 0; n < total; n++ {
		part := chunkPart{
			coord: make([]int64, len(axes)),
			spans: make([]span, len(axes)),
		}
		for i := range axes {
			s := perAxis[i][idx[i]]
			part.coord[i] = s.chunk
			part.spans[i] = s
		}
		parts = append(parts, part)
		for i := len(axes) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(perAxis[i]) {
				break
			}
			idx[i] = 0
		}
	}
	return parts
}

// layout gives, per declared axis, the element steps used to walk the overlap of a
// chunk part in the chunk buffer and in the canonical output array.
type layout struct {
	chunkOff, outOff   int64
	chunkStep, outStep []int64
	counts             []int64
}

func newLayout(desc *bio.ImageDescriptor, req bio.RegionRequest, outShape bio.Shape, part chunkPart) layout {
	axes := desc.Order.Axes()
	n := len(axes)
	chunkStrides := make([]int64, n)
	stride := int64(1)
	for i := n - 1; i >= 0; i-- {
		chunkStrides[i] = stride
		stride *= desc.ChunkShape[i]
	}
	outStrides := outShape.Strides()
	l := layout{
		chunkStep: make([]int64, n),
		outStep:   make([]int64, n),
		counts:    make([]int64, n),
	}
	for i, a := range axes {
		s := part.spans[i]
		l.chunkOff += s.start * chunkStrides[i]
		l.chunkStep[i] = req.Range(a).Step() * chunkStrides[i]
		l.outOff += s.offset * outStrides[a]
		l.outStep[i] = outStrides[a]
		l.counts[i] = s.count
	}
	return l
}

// stridedCopy copies a block of elements between two buffers whose per-dimension
// element steps may differ.  Runs that are contiguous in both buffers are copied whole.
func stridedCopy(dst []byte, dstOff int64, dstStep []int64, src []byte, srcOff int64, srcStep []int64,
	counts []int64, elem int64) {

	last := len(counts) - 1
	if last < 0 {
		copy(dst[dstOff*elem:(dstOff+1)*elem], src[srcOff*elem:(srcOff+1)*elem])
		return
	}
	if last == 0 {
		n := counts[0]
		if dstStep[0] == 1 && srcStep[0] == 1 {
			copy(dst[dstOff*elem:(dstOff+n)*elem], src[srcOff*elem:(srcOff+n)*elem])
			return
		}
		for j := int64(0); j < n; j++ {
			d, s := (dstOff+j*dstStep[0])*elem, (srcOff+j*srcStep[0])*elem
			copy(dst[d:d+elem], src[s:s+elem])
		}
		return
	}
	for j := int64(0); j < counts[0]; j++ {
		stridedCopy(dst, dstOff+j*dstStep[0], dstStep[1:], src, srcOff+j*srcStep[0], srcStep[1:], counts[1:], elem)
	}
}

// inBounds returns the number of valid (non-padding) elements of chunk c along an axis.
func inBounds(c, chunkSize, extent int64) int64 {
	n := extent - c*chunkSize
	if n > chunkSize {
		n = chunkSize
	}
	return n
}

// coversChunk returns true if a unit-stride request covers every in-bounds element of
// the part's chunk, so the chunk can be written without reading it first.
func coversChunk(desc *bio.ImageDescriptor, req bio.RegionRequest, part chunkPart) bool {
	for i, a := range desc.Order.Axes() {
		if req.Range(a).Step() != 1 {
			return false
		}
		s := part.spans[i]
		if s.start != 0 || s.count != inBounds(s.chunk, desc.ChunkShape[i], desc.ArrayShape[i]) {
			return false
		}
	}
	return true
}
