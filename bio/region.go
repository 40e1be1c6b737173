package bio

import (
	"fmt"
	"strconv"
	"strings"
)

// Range is an inclusive (Start, End, Stride) span along one logical axis.  A zero
// Stride is unset and means 1, so Range{Start: s, End: e} is contiguous.  A negative
// Stride is invalid.
type Range struct {
	Start  int64
	End    int64
	Stride int64
}

// NewRange returns the contiguous inclusive range [start, end].
func NewRange(start, end int64) Range {
	return Range{start, end, 1}
}

// NewStridedRange returns the inclusive range [start, end] sampled every stride elements.
func NewStridedRange(start, end, stride int64) Range {
	return Range{start, end, stride}
}

// Index returns the single-element range at i.
func Index(i int64) Range {
	return Range{i, i, 1}
}

// Step returns the stride, treating an unset stride as 1.
func (r Range) Step() int64 {
	if r.Stride <= 0 {
		return 1
	}
	return r.Stride
}

// Len returns the number of selected indices.
func (r Range) Len() int64 {
	if r.End < r.Start {
		return 0
	}
	return (r.End-r.Start)/r.Step() + 1
}

// Last returns the last selected index, which is less than End when the stride
// does not divide the span.
func (r Range) Last() int64 {
	return r.Start + (r.Len()-1)*r.Step()
}

// Validate checks the range invariants and that it lies within [0, extent).  An unset
// stride is accepted as 1.
func (r Range) Validate(axis Axis, extent int64) error {
	if r.Start < 0 || r.End < 0 {
		return NewError(CodeOutOfRange, "%s range %s is negative", axis.Name(), r)
	}
	if r.Start > r.End {
		return NewError(CodeOutOfRange, "%s range %s has start after end", axis.Name(), r)
	}
	if r.Stride < 0 {
		return NewError(CodeInvalidInput, "%s range %s has negative stride", axis.Name(), r)
	}
	if r.End >= extent {
		return NewError(CodeOutOfRange, "%s range %s exceeds extent %d", axis.Name(), r, extent)
	}
	return nil
}

func (r Range) String() string {
	if r.Step() == 1 {
		return fmt.Sprintf("[%d,%d]", r.Start, r.End)
	}
	return fmt.Sprintf("[%d,%d:%d]", r.Start, r.End, r.Step())
}

// RegionRequest is a 5d sub-volume, one Range per logical axis indexed by Axis.
type RegionRequest [NumAxes]Range

// NewRegion returns a request for the given rows (Y) and cols (X).  Optional ranges
// are, in order, layers (Z), channels (C) and tsteps (T); omitted axes default to
// the single index 0.
func NewRegion(rows, cols Range, rest ...Range) RegionRequest {
	var req RegionRequest
	for a := range req {
		req[a] = Index(0)
	}
	req[AxisY] = rows
	req[AxisX] = cols
	for i, r := range rest {
		switch i {
		case 0:
			req[AxisZ] = r
		case 1:
			req[AxisC] = r
		case 2:
			req[AxisT] = r
		}
	}
	return req
}

// FullRegion returns the request covering the whole image.
func FullRegion(extents Shape) RegionRequest {
	var req RegionRequest
	for a := range req {
		req[a] = NewRange(0, extents[a]-1)
	}
	return req
}

// Range returns the span requested along a.
func (req RegionRequest) Range(a Axis) Range {
	return req[a]
}

// Shape returns the (T, C, Z, Y, X) shape of the selected sub-volume.
func (req RegionRequest) Shape() Shape {
	var s Shape
	for a := range req {
		s[a] = req[a].Len()
	}
	return s
}

// Validate checks every range against the image extents.  Axes the image does not
// declare have extent 1, so only index 0 is addressable.
func (req RegionRequest) Validate(extents Shape) error {
	for _, a := range CanonicalAxes {
		if err := req[a].Validate(a, extents[a]); err != nil {
			return err
		}
	}
	return nil
}

// Strided returns true if any axis samples with a stride greater than 1.
func (req RegionRequest) Strided() bool {
	for a := range req {
		if req[a].Step() > 1 {
			return true
		}
	}
	return false
}

func (req RegionRequest) String() string {
	return fmt.Sprintf("t%s c%s z%s y%s x%s", req[AxisT], req[AxisC], req[AxisZ], req[AxisY], req[AxisX])
}

// ParseRange parses "start:end" or "start:end:stride", inclusive, or a single index.
func ParseRange(s string) (Range, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return Range{}, NewError(CodeInvalidInput, "bad range %q", s)
	}
	vals := make([]int64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return Range{}, WrapError(err, CodeInvalidInput, "bad range %q", s)
		}
		vals[i] = v
	}
	switch len(vals) {
	case 1:
		return Index(vals[0]), nil
	case 2:
		return NewRange(vals[0], vals[1]), nil
	}
	if vals[2] < 1 {
		return Range{}, NewError(CodeInvalidInput, "range %q has stride below 1", s)
	}
	return NewStridedRange(vals[0], vals[1], vals[2]), nil
}
