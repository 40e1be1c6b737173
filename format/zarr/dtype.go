package zarr

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/janelia-flyem/bfio/bio"
)

var v2TypeCodes = map[bio.DataType]string{
	bio.T_uint8:   "u1",
	bio.T_int8:    "i1",
	bio.T_uint16:  "u2",
	bio.T_int16:   "i2",
	bio.T_uint32:  "u4",
	bio.T_int32:   "i4",
	bio.T_uint64:  "u8",
	bio.T_int64:   "i8",
	bio.T_float32: "f4",
	bio.T_float64: "f8",
}

// v2DType returns a numpy type string such as "<u2".  Single byte types use "|".
func v2DType(t bio.DataType) string {
	if t.Bytes() == 1 {
		return "|" + v2TypeCodes[t]
	}
	return "<" + v2TypeCodes[t]
}

// parseV2DType parses a numpy type string and reports whether it is big-endian.
func parseV2DType(s string) (t bio.DataType, bigEndian bool, err error) {
	if len(s) != 3 {
		return 0, false, bio.NewError(bio.CodeUnsupportedFormat, "unsupported zarr dtype %q", s)
	}
	for dt, code := range v2TypeCodes {
		if code == s[1:] {
			switch s[0] {
			case '<', '|':
				return dt, false, nil
			case '>':
				return dt, dt.Bytes() > 1, nil
			}
		}
	}
	return 0, false, bio.NewError(bio.CodeUnsupportedFormat, "unsupported zarr dtype %q", s)
}

// encodeFill returns the JSON form of a fill value, spelling out non-finite floats.
func encodeFill(t bio.DataType, v float64) interface{} {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case t.IsFloat():
		return v
	}
	return int64(v)
}

func decodeFill(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	switch fv := v.(type) {
	case float64:
		return fv, nil
	case bool:
		if fv {
			return 1, nil
		}
		return 0, nil
	case string:
		switch fv {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
	}
	return 0, fmt.Errorf("unsupported fill value %s", raw)
}
