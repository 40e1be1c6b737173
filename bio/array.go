package bio

import (
	"fmt"
	"math"
)

// Shape is a size per logical axis in canonical (T, C, Z, Y, X) order.
type Shape [NumAxes]int64

// NewShape returns a Shape given sizes for X, Y, Z, C and T.
func NewShape(x, y, z, c, t int64) Shape {
	return Shape{t, c, z, y, x}
}

// Prod returns the number of elements.
func (s Shape) Prod() int64 {
	n := int64(1)
	for _, v := range s {
		n *= v
	}
	return n
}

func (s Shape) X() int64 { return s[AxisX] }
func (s Shape) Y() int64 { return s[AxisY] }
func (s Shape) Z() int64 { return s[AxisZ] }
func (s Shape) C() int64 { return s[AxisC] }
func (s Shape) T() int64 { return s[AxisT] }

// Strides returns the element strides of a C-ordered buffer with this shape.
func (s Shape) Strides() Shape {
	var st Shape
	n := int64(1)
	for a := NumAxes - 1; a >= 0; a-- {
		st[a] = n
		n *= s[a]
	}
	return st
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d, %d)", s[0], s[1], s[2], s[3], s[4])
}

// Array is a dense, fully materialized 5d buffer of little-endian elements stored in
// C order over (T, C, Z, Y, X).
type Array struct {
	DType DataType
	Shape Shape
	Data  []byte
}

// NewArray allocates a zeroed array.
func NewArray(dtype DataType, shape Shape) *Array {
	return &Array{
		DType: dtype,
		Shape: shape,
		Data:  make([]byte, shape.Prod()*int64(dtype.Bytes())),
	}
}

// NewArrayFromBytes wraps existing little-endian data, checking its length.
func NewArrayFromBytes(dtype DataType, shape Shape, data []byte) (*Array, error) {
	if want := shape.Prod() * int64(dtype.Bytes()); int64(len(data)) != want {
		return nil, NewError(CodeShapeMismatch, "%d bytes cannot hold %s array of shape %s (%d bytes)",
			len(data), dtype, shape, want)
	}
	return &Array{DType: dtype, Shape: shape, Data: data}, nil
}

// NumElements returns the number of elements in the array.
func (a *Array) NumElements() int64 {
	return a.Shape.Prod()
}

func (a *Array) offset(t, c, z, y, x int64) int64 {
	s := a.Shape
	return ((((t*s[AxisC]+c)*s[AxisZ]+z)*s[AxisY]+y)*s[AxisX] + x) * int64(a.DType.Bytes())
}

// At returns the element at the given canonical coordinate as a float64.
func (a *Array) At(t, c, z, y, x int64) float64 {
	i := a.offset(t, c, z, y, x)
	return a.DType.Value(a.Data[i:])
}

// Set stores v at the given canonical coordinate.
func (a *Array) Set(t, c, z, y, x int64, v float64) {
	i := a.offset(t, c, z, y, x)
	a.DType.PutValue(a.Data[i:], v)
}

// Sum returns the sum of all elements.  Integer arrays are summed exactly when the
// total fits in 64 bits.
func (a *Array) Sum() float64 {
	nb := a.DType.Bytes()
	switch a.DType {
	case T_uint8:
		var sum uint64
		for _, v := range a.Data {
			sum += uint64(v)
		}
		return float64(sum)
	case T_float32, T_float64:
		var sum float64
		for i := 0; i < len(a.Data); i += nb {
			sum += a.DType.Value(a.Data[i:])
		}
		return sum
	default:
		var sum int64
		for i := 0; i < len(a.Data); i += nb {
			sum += int64(a.DType.Value(a.Data[i:]))
		}
		return float64(sum)
	}
}

// MinMax returns the smallest and largest element values.
func (a *Array) MinMax() (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	nb := a.DType.Bytes()
	for i := 0; i < len(a.Data); i += nb {
		v := a.DType.Value(a.Data[i:])
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return
}

// Uint8 returns the elements of a uint8 array without copying.
func (a *Array) Uint8() ([]uint8, error) {
	if a.DType != T_uint8 {
		return nil, NewError(CodeShapeMismatch, "array holds %s, not uint8", a.DType)
	}
	return a.Data, nil
}

// Values returns a copy of all elements as float64 in C order.
func (a *Array) Values() []float64 {
	nb := a.DType.Bytes()
	vals := make([]float64, 0, len(a.Data)/nb)
	for i := 0; i < len(a.Data); i += nb {
		vals = append(vals, a.DType.Value(a.Data[i:]))
	}
	return vals
}

// Sub copies out the sub-volume selected by req, whose ranges are relative to this array.
func (a *Array) Sub(req RegionRequest) (*Array, error) {
	if err := req.Validate(a.Shape); err != nil {
		return nil, err
	}
	out := NewArray(a.DType, req.Shape())
	nb := int64(a.DType.Bytes())
	var i int64
	for t := req[AxisT].Start; t <= req[AxisT].End; t += req[AxisT].Step() {
		for c := req[AxisC].Start; c <= req[AxisC].End; c += req[AxisC].Step() {
			for z := req[AxisZ].Start; z <= req[AxisZ].End; z += req[AxisZ].Step() {
				for y := req[AxisY].Start; y <= req[AxisY].End; y += req[AxisY].Step() {
					for x := req[AxisX].Start; x <= req[AxisX].End; x += req[AxisX].Step() {
						j := a.offset(t, c, z, y, x)
						copy(out.Data[i:i+nb], a.Data[j:j+nb])
						i += nb
					}
				}
			}
		}
	}
	return out, nil
}

// Equal returns true if both arrays have the same type, shape and bytes.
func (a *Array) Equal(b *Array) bool {
	if a.DType != b.DType || a.Shape != b.Shape || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

func (a *Array) String() string {
	return fmt.Sprintf("%s array %s", a.DType, a.Shape)
}
