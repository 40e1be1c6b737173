/*
   This file handles the element data types of an image and conversion between raw
   little-endian bytes and numeric values.
*/

package bio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DataType is a unique ID for each element type, e.g., a uint8 or a float32.
type DataType uint8

const (
	T_uint8 DataType = iota
	T_int8
	T_uint16
	T_int16
	T_uint32
	T_int32
	T_uint64
	T_int64
	T_float32
	T_float64
)

var typeBytes = map[DataType]int{
	T_uint8:   1,
	T_int8:    1,
	T_uint16:  2,
	T_int16:   2,
	T_uint32:  4,
	T_int32:   4,
	T_uint64:  8,
	T_int64:   8,
	T_float32: 4,
	T_float64: 8,
}

var typeNames = map[DataType]string{
	T_uint8:   "uint8",
	T_int8:    "int8",
	T_uint16:  "uint16",
	T_int16:   "int16",
	T_uint32:  "uint32",
	T_int32:   "int32",
	T_uint64:  "uint64",
	T_int64:   "int64",
	T_float32: "float32",
	T_float64: "float64",
}

// ParseDataType returns the DataType for a tag like "uint16".  "double" is accepted
// as an alias for "float64".
func ParseDataType(tag string) (DataType, error) {
	if tag == "double" {
		return T_float64, nil
	}
	for t, name := range typeNames {
		if name == tag {
			return t, nil
		}
	}
	return 0, NewError(CodeInvalidInput, "unknown data type %q", tag)
}

// Bytes returns the # of bytes for one element of the type.
func (t DataType) Bytes() int {
	return typeBytes[t]
}

// Valid returns true for a known element type.
func (t DataType) Valid() bool {
	_, found := typeBytes[t]
	return found
}

// IsFloat returns true for float32 and float64.
func (t DataType) IsFloat() bool {
	return t == T_float32 || t == T_float64
}

// IsSigned returns true for signed integer and float types.
func (t DataType) IsSigned() bool {
	switch t {
	case T_int8, T_int16, T_int32, T_int64, T_float32, T_float64:
		return true
	}
	return false
}

func (t DataType) String() string {
	if name, found := typeNames[t]; found {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t DataType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal unknown data type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DataType) UnmarshalText(b []byte) error {
	dt, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*t = dt
	return nil
}

// Value decodes the little-endian element at b[0:t.Bytes()] as a float64.
func (t DataType) Value(b []byte) float64 {
	switch t {
	case T_uint8:
		return float64(b[0])
	case T_int8:
		return float64(int8(b[0]))
	case T_uint16:
		return float64(binary.LittleEndian.Uint16(b))
	case T_int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case T_uint32:
		return float64(binary.LittleEndian.Uint32(b))
	case T_int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case T_uint64:
		return float64(binary.LittleEndian.Uint64(b))
	case T_int64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case T_float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case T_float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// PutValue encodes v as a little-endian element of type t into b.  Integer types
// truncate toward zero.
func (t DataType) PutValue(b []byte, v float64) {
	switch t {
	case T_uint8:
		b[0] = uint8(v)
	case T_int8:
		b[0] = uint8(int8(v))
	case T_uint16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case T_int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case T_uint32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case T_int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case T_uint64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	case T_int64:
		binary.LittleEndian.PutUint64(b, uint64(int64(v)))
	case T_float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case T_float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

// FillBytes returns n elements of type t all set to the fill value.
func (t DataType) FillBytes(n int64, fill float64) []byte {
	buf := make([]byte, n*int64(t.Bytes()))
	if fill == 0 || n == 0 {
		return buf
	}
	elem := buf[:t.Bytes()]
	t.PutValue(elem, fill)
	for filled := len(elem); filled < len(buf); filled *= 2 {
		copy(buf[filled:], buf[:filled])
	}
	return buf
}

// SwapBytes reverses the byte order of every element in b in place.
func (t DataType) SwapBytes(b []byte) {
	n := t.Bytes()
	if n == 1 {
		return
	}
	for i := 0; i+n <= len(b); i += n {
		for lo, hi := i, i+n-1; lo < hi; lo, hi = lo+1, hi-1 {
			b[lo], b[hi] = b[hi], b[lo]
		}
	}
}
