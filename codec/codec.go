/*
Package codec implements the chunk compressors used by Zarr arrays: gzip, zlib, zstd,
lz4 with a numcodecs length header, blosc and a crc32c checksum.
*/
package codec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/janelia-flyem/bfio/bio"
)

// Codec encodes and decodes whole chunks.
type Codec interface {
	// Name is the identifier stored in array metadata, e.g., "zstd".
	Name() string

	// Encode returns the encoded form of src.
	Encode(src []byte) ([]byte, error)

	// Decode returns the decoded form of src.  size is the expected decoded length or
	// a negative number if unknown.
	Decode(src []byte, size int) ([]byte, error)
}

// Spec configures a codec.
type Spec struct {
	Name string

	// Level is the compression level; zero selects the codec's default.
	Level int

	// CName is the inner compressor of a blosc codec: "lz4", "snappy", "zlib" or "zstd".
	CName string

	// Shuffle is the blosc shuffle mode: 0 none, 1 byte shuffle, 2 bit shuffle.
	Shuffle int

	// TypeSize is the element size in bytes used for blosc shuffling.
	TypeSize int
}

func (s Spec) String() string {
	switch s.Name {
	case "blosc":
		return fmt.Sprintf("blosc(%s, level %d, shuffle %d)", s.CName, s.Level, s.Shuffle)
	case "", Null:
		return "uncompressed"
	}
	if s.Level != 0 {
		return fmt.Sprintf("%s(level %d)", s.Name, s.Level)
	}
	return s.Name
}

// Null is the name of the pass-through codec.
const Null = "null"

type factory func(Spec) (Codec, error)

var registry = map[string]factory{
	Null:     func(Spec) (Codec, error) { return nullCodec{}, nil },
	"raw":    func(Spec) (Codec, error) { return nullCodec{}, nil },
	"gzip":   newGzip,
	"zlib":   newZlib,
	"zstd":   newZstd,
	"lz4":    newLZ4,
	"blosc":  newBlosc,
	"crc32c": func(Spec) (Codec, error) { return crc32cCodec{}, nil },
}

// New returns the codec described by spec.  An empty name is the null codec.
func New(spec Spec) (Codec, error) {
	name := strings.ToLower(spec.Name)
	if name == "" {
		name = Null
	}
	f, found := registry[name]
	if !found {
		return nil, bio.NewError(bio.CodeUnsupportedFormat, "unsupported compressor %q", spec.Name)
	}
	spec.Name = name
	return f(spec)
}

// Names returns the registered codec names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain applies codecs in order on encode and in reverse order on decode.
type Chain []Codec

func (c Chain) Encode(src []byte) ([]byte, error) {
	var err error
	for _, cd := range c {
		if src, err = cd.Encode(src); err != nil {
			return nil, err
		}
	}
	return src, nil
}

// Decode passes size only to the first codec applied, i.e., the last in the chain.
func (c Chain) Decode(src []byte, size int) ([]byte, error) {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		n := -1
		if i == 0 {
			n = size
		}
		if src, err = c[i].Decode(src, n); err != nil {
			return nil, err
		}
	}
	return src, nil
}

func checkSize(name string, out []byte, size int) ([]byte, error) {
	if size >= 0 && len(out) != size {
		return nil, bio.NewError(bio.CodeStoreIO, "%s decoded %d bytes, expected %d", name, len(out), size)
	}
	return out, nil
}

type nullCodec struct{}

func (nullCodec) Name() string { return Null }

func (nullCodec) Encode(src []byte) ([]byte, error) { return src, nil }

func (nullCodec) Decode(src []byte, size int) ([]byte, error) {
	return checkSize(Null, src, size)
}
