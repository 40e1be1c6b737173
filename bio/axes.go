package bio

import (
	"fmt"
	"strings"
)

// Axis is one of the five logical image axes.  The numeric value is the position of the
// axis in the canonical (T, C, Z, Y, X) order.
type Axis uint8

const (
	AxisT Axis = iota
	AxisC
	AxisZ
	AxisY
	AxisX
)

// NumAxes is the number of logical axes.
const NumAxes = 5

var axisSymbols = [NumAxes]byte{'T', 'C', 'Z', 'Y', 'X'}

// CanonicalAxes lists the axes in canonical output order.
var CanonicalAxes = [NumAxes]Axis{AxisT, AxisC, AxisZ, AxisY, AxisX}

// Symbol returns the axis letter, e.g., 'X'.
func (a Axis) Symbol() byte {
	if int(a) < NumAxes {
		return axisSymbols[a]
	}
	return '?'
}

func (a Axis) String() string {
	return string(a.Symbol())
}

// Name returns the request argument name for the axis.
func (a Axis) Name() string {
	switch a {
	case AxisT:
		return "tsteps"
	case AxisC:
		return "channels"
	case AxisZ:
		return "layers"
	case AxisY:
		return "rows"
	case AxisX:
		return "cols"
	}
	return "unknown"
}

func axisFromSymbol(c byte) (Axis, bool) {
	for i, s := range axisSymbols {
		if s == c {
			return Axis(i), true
		}
	}
	return 0, false
}

// AxisOrder is the declared sequence of logical axes used by an image's on-disk layout.
// The zero value has no axes and means "use the backend's native order".
type AxisOrder struct {
	axes string
}

// ParseAxisOrder validates a dimension-order string such as "TCZYX" or "ZYX".
// Symbols are case-sensitive and must be unique; X and Y are required.
func ParseAxisOrder(order string) (AxisOrder, error) {
	if order == "" {
		return AxisOrder{}, NewError(CodeInvalidDimensionOrder, "empty dimension order")
	}
	if len(order) > NumAxes {
		return AxisOrder{}, NewError(CodeInvalidDimensionOrder,
			"dimension order %q has %d axes, maximum is %d", order, len(order), NumAxes)
	}
	var seen [NumAxes]bool
	for i := 0; i < len(order); i++ {
		a, ok := axisFromSymbol(order[i])
		if !ok {
			return AxisOrder{}, NewError(CodeInvalidDimensionOrder,
				"dimension order %q contains invalid axis %q", order, order[i])
		}
		if seen[a] {
			return AxisOrder{}, NewError(CodeInvalidDimensionOrder,
				"dimension order %q repeats axis %q", order, order[i])
		}
		seen[a] = true
	}
	if !seen[AxisX] {
		return AxisOrder{}, NewError(CodeInvalidDimensionOrder, "dimension order %q is missing axis X", order)
	}
	if !seen[AxisY] {
		return AxisOrder{}, NewError(CodeInvalidDimensionOrder, "dimension order %q is missing axis Y", order)
	}
	return AxisOrder{order}, nil
}

// ParseAxisOrderHint is like ParseAxisOrder except an empty string is accepted and
// returns the zero AxisOrder, which defers to the order stored with an existing image.
func ParseAxisOrderHint(hint string) (AxisOrder, error) {
	if hint == "" {
		return AxisOrder{}, nil
	}
	return ParseAxisOrder(hint)
}

// MustAxisOrder is like ParseAxisOrder but panics on an invalid order.
func MustAxisOrder(order string) AxisOrder {
	o, err := ParseAxisOrder(order)
	if err != nil {
		panic(err)
	}
	return o
}

// DefaultAxisOrder guesses the axis order of an array of the given rank when no axis
// information is available: the last two axes are always Y and X.
func DefaultAxisOrder(rank int) (AxisOrder, error) {
	switch rank {
	case 2:
		return AxisOrder{"YX"}, nil
	case 3:
		return AxisOrder{"ZYX"}, nil
	case 4:
		return AxisOrder{"CZYX"}, nil
	case 5:
		return AxisOrder{"TCZYX"}, nil
	}
	return AxisOrder{}, NewError(CodeInvalidDimensionOrder, "cannot infer dimension order for rank %d array", rank)
}

// AxisOrderFromNames builds an order from per-dimension names such as
// ["t", "c", "z", "y", "x"], ignoring case.
func AxisOrderFromNames(names []string) (AxisOrder, error) {
	var sb strings.Builder
	for _, name := range names {
		if len(name) != 1 {
			return AxisOrder{}, NewError(CodeInvalidDimensionOrder, "unrecognized dimension name %q", name)
		}
		sb.WriteString(strings.ToUpper(name))
	}
	return ParseAxisOrder(sb.String())
}

// IsZero returns true for the empty order, which defers to the backend's native order.
func (o AxisOrder) IsZero() bool {
	return o.axes == ""
}

// Len returns the number of declared axes.
func (o AxisOrder) Len() int {
	return len(o.axes)
}

// Axis returns the logical axis of the i-th declared dimension.
func (o AxisOrder) Axis(i int) Axis {
	a, _ := axisFromSymbol(o.axes[i])
	return a
}

// Axes returns the declared axes in order.
func (o AxisOrder) Axes() []Axis {
	axes := make([]Axis, len(o.axes))
	for i := range axes {
		axes[i] = o.Axis(i)
	}
	return axes
}

// Index returns the declared dimension index of a logical axis.
func (o AxisOrder) Index(a Axis) (int, bool) {
	i := strings.IndexByte(o.axes, a.Symbol())
	return i, i >= 0
}

// Has returns true if a is one of the declared axes.
func (o AxisOrder) Has(a Axis) bool {
	_, found := o.Index(a)
	return found
}

// Names returns lower-case per-dimension names as stored in Zarr metadata.
func (o AxisOrder) Names() []string {
	names := make([]string, len(o.axes))
	for i := range names {
		names[i] = strings.ToLower(o.axes[i : i+1])
	}
	return names
}

func (o AxisOrder) String() string {
	return o.axes
}

// Equals returns true if both orders declare the same axes in the same order.
func (o AxisOrder) Equals(o2 AxisOrder) bool {
	return o.axes == o2.axes
}

// GoString aids debugging output.
func (o AxisOrder) GoString() string {
	return fmt.Sprintf("bio.AxisOrder(%q)", o.axes)
}
