package zarr

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/codec"
	"github.com/janelia-flyem/bfio/storage"
)

// ---- Zarr v2 ----

type compressorV2 struct {
	ID           string `json:"id"`
	Level        *int   `json:"level,omitempty"`
	CName        string `json:"cname,omitempty"`
	CLevel       *int   `json:"clevel,omitempty"`
	Shuffle      *int   `json:"shuffle,omitempty"`
	BlockSize    *int   `json:"blocksize,omitempty"`
	Acceleration *int   `json:"acceleration,omitempty"`
}

type arrayV2 struct {
	ZarrFormat         int             `json:"zarr_format"`
	Shape              []int64         `json:"shape"`
	Chunks             []int64         `json:"chunks"`
	DType              string          `json:"dtype"`
	Compressor         *compressorV2   `json:"compressor"`
	FillValue          json.RawMessage `json:"fill_value"`
	Order              string          `json:"order"`
	Filters            []interface{}   `json:"filters"`
	DimensionSeparator string          `json:"dimension_separator,omitempty"`
}

type attrsV2 struct {
	ArrayDimensions []string `json:"_ARRAY_DIMENSIONS,omitempty"`
}

func intPtr(i int) *int { return &i }

func compressorToV2(spec codec.Spec) *compressorV2 {
	switch spec.Name {
	case "", codec.Null, "raw":
		return nil
	case "blosc":
		cname := spec.CName
		if cname == "" {
			cname = "lz4"
		}
		level := spec.Level
		if level == 0 {
			level = 5
		}
		return &compressorV2{ID: "blosc", CName: cname, CLevel: intPtr(level),
			Shuffle: intPtr(spec.Shuffle), BlockSize: intPtr(0)}
	case "lz4":
		return &compressorV2{ID: "lz4", Acceleration: intPtr(1)}
	case "zstd", "gzip", "zlib":
		level := spec.Level
		if level == 0 {
			level = map[string]int{"zstd": 3, "gzip": 6, "zlib": 6}[spec.Name]
		}
		return &compressorV2{ID: spec.Name, Level: intPtr(level)}
	}
	return &compressorV2{ID: spec.Name}
}

func compressorFromV2(c *compressorV2) codec.Spec {
	if c == nil {
		return codec.Spec{Name: codec.Null}
	}
	spec := codec.Spec{Name: c.ID, CName: c.CName}
	if c.Level != nil {
		spec.Level = *c.Level
	}
	if c.CLevel != nil {
		spec.Level = *c.CLevel
	}
	if c.Shuffle != nil {
		spec.Shuffle = *c.Shuffle
		if spec.Shuffle < 0 {
			spec.Shuffle = 1
		}
	}
	return spec
}

func encodeV2(desc *bio.ImageDescriptor, spec codec.Spec, sep string) (meta, attrs []byte, err error) {
	fill, err := json.Marshal(encodeFill(desc.DType, desc.FillValue))
	if err != nil {
		return nil, nil, err
	}
	m := arrayV2{
		ZarrFormat:         2,
		Shape:              desc.ArrayShape,
		Chunks:             desc.ChunkShape,
		DType:              v2DType(desc.DType),
		Compressor:         compressorToV2(spec),
		FillValue:          fill,
		Order:              "C",
		DimensionSeparator: sep,
	}
	if meta, err = json.MarshalIndent(m, "", "    "); err != nil {
		return nil, nil, err
	}
	attrs, err = json.MarshalIndent(attrsV2{ArrayDimensions: desc.Order.Names()}, "", "    ")
	return
}

// decodeV2 returns an array with a provisional descriptor and any stored dimension names.
func decodeV2(ctx context.Context, store storage.Store) (*Array, []string, error) {
	data, err := store.Get(ctx, V2ArrayFile).Wait(ctx)
	if err != nil {
		return nil, nil, err
	}
	var m arrayV2
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, bio.WrapError(err, bio.CodeUnsupportedFormat, "bad %s in %s", V2ArrayFile, store)
	}
	if m.ZarrFormat != 2 {
		return nil, nil, bio.NewError(bio.CodeUnsupportedFormat, "%s has zarr_format %d", V2ArrayFile, m.ZarrFormat)
	}
	if m.Order != "" && m.Order != "C" {
		return nil, nil, bio.NewError(bio.CodeUnsupportedFormat, "zarr arrays in %q order are not supported", m.Order)
	}
	if len(m.Filters) != 0 {
		return nil, nil, bio.NewError(bio.CodeUnsupportedFormat, "zarr filters are not supported")
	}
	if len(m.Shape) != len(m.Chunks) {
		return nil, nil, bio.NewError(bio.CodeInvalidChunkShape, "chunks %v do not match shape %v", m.Chunks, m.Shape)
	}
	dtype, bigEndian, err := parseV2DType(m.DType)
	if err != nil {
		return nil, nil, err
	}
	fill, err := decodeFill(m.FillValue)
	if err != nil {
		return nil, nil, bio.WrapError(err, bio.CodeUnsupportedFormat, "bad fill value in %s", store)
	}
	spec := compressorFromV2(m.Compressor)
	spec.TypeSize = dtype.Bytes()
	compressor, err := codec.New(spec)
	if err != nil {
		return nil, nil, err
	}
	sep := m.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	a := &Array{
		desc: &bio.ImageDescriptor{
			ArrayShape: m.Shape,
			ChunkShape: m.Chunks,
			DType:      dtype,
			Kind:       bio.OmeZarrV2,
			FillValue:  fill,
			Compressor: spec.String(),
		},
		chain:     codec.Chain{compressor},
		separator: sep,
		bigEndian: bigEndian,
	}

	var names []string
	if data, err := store.Get(ctx, V2AttrsFile).Wait(ctx); err != nil {
		return nil, nil, err
	} else if data != nil {
		var attrs attrsV2
		if err := json.Unmarshal(data, &attrs); err != nil {
			bio.Warningf("Ignoring unparseable %s in %s: %v\n", V2AttrsFile, store, err)
		} else {
			names = attrs.ArrayDimensions
		}
	}
	return a, names, nil
}

// ---- Zarr v3 ----

type namedConfig struct {
	Name          string          `json:"name"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

type arrayV3 struct {
	ZarrFormat       int                    `json:"zarr_format"`
	NodeType         string                 `json:"node_type"`
	Shape            []int64                `json:"shape"`
	DataType         string                 `json:"data_type"`
	ChunkGrid        namedConfig            `json:"chunk_grid"`
	ChunkKeyEncoding namedConfig            `json:"chunk_key_encoding"`
	FillValue        json.RawMessage        `json:"fill_value"`
	Codecs           []namedConfig          `json:"codecs"`
	DimensionNames   []string               `json:"dimension_names,omitempty"`
	Attributes       map[string]interface{} `json:"attributes,omitempty"`
}

type regularGridV3 struct {
	ChunkShape []int64 `json:"chunk_shape"`
}

type keyEncodingV3 struct {
	Separator string `json:"separator,omitempty"`
}

type bytesV3 struct {
	Endian string `json:"endian,omitempty"`
}

type levelV3 struct {
	Level    int   `json:"level"`
	Checksum *bool `json:"checksum,omitempty"`
}

type bloscV3 struct {
	CName     string `json:"cname"`
	CLevel    int    `json:"clevel"`
	Shuffle   string `json:"shuffle"`
	TypeSize  int    `json:"typesize,omitempty"`
	BlockSize int    `json:"blocksize"`
}

var bloscShuffleNames = []string{"noshuffle", "shuffle", "bitshuffle"}

func mustConfig(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func compressorToV3(spec codec.Spec) []namedConfig {
	var codecs []namedConfig
	switch spec.Name {
	case "", codec.Null, "raw":
	case "blosc":
		cname := spec.CName
		if cname == "" {
			cname = "lz4"
		}
		level := spec.Level
		if level == 0 {
			level = 5
		}
		codecs = append(codecs, namedConfig{"blosc", mustConfig(bloscV3{
			CName: cname, CLevel: level, Shuffle: bloscShuffleNames[spec.Shuffle], TypeSize: spec.TypeSize,
		})})
	case "zstd":
		no := false
		codecs = append(codecs, namedConfig{"zstd", mustConfig(levelV3{Level: spec.Level, Checksum: &no})})
	case "gzip", "zlib":
		level := spec.Level
		if level == 0 {
			level = 6
		}
		codecs = append(codecs, namedConfig{spec.Name, mustConfig(levelV3{Level: level})})
	default:
		codecs = append(codecs, namedConfig{Name: spec.Name})
	}
	return codecs
}

func encodeV3(desc *bio.ImageDescriptor, spec codec.Spec, sep string) ([]byte, error) {
	fill, err := json.Marshal(encodeFill(desc.DType, desc.FillValue))
	if err != nil {
		return nil, err
	}
	codecs := []namedConfig{{"bytes", mustConfig(bytesV3{Endian: "little"})}}
	codecs = append(codecs, compressorToV3(spec)...)
	m := arrayV3{
		ZarrFormat:       3,
		NodeType:         "array",
		Shape:            desc.ArrayShape,
		DataType:         desc.DType.String(),
		ChunkGrid:        namedConfig{"regular", mustConfig(regularGridV3{desc.ChunkShape})},
		ChunkKeyEncoding: namedConfig{"default", mustConfig(keyEncodingV3{sep})},
		FillValue:        fill,
		Codecs:           codecs,
		DimensionNames:   desc.Order.Names(),
	}
	return json.MarshalIndent(m, "", "    ")
}

func decodeV3(ctx context.Context, store storage.Store) (*Array, []string, error) {
	data, err := store.Get(ctx, V3ManifestFile).Wait(ctx)
	if err != nil {
		return nil, nil, err
	}
	var m arrayV3
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, bio.WrapError(err, bio.CodeUnsupportedFormat, "bad %s in %s", V3ManifestFile, store)
	}
	if m.ZarrFormat != 3 || m.NodeType != "array" {
		return nil, nil, bio.NewError(bio.CodeUnsupportedFormat, "%s in %s is not a zarr v3 array", V3ManifestFile, store)
	}
	dtype, err := bio.ParseDataType(m.DataType)
	if err != nil {
		return nil, nil, bio.WrapError(err, bio.CodeUnsupportedFormat, "unsupported zarr data type")
	}
	if m.ChunkGrid.Name != "regular" {
		return nil, nil, bio.NewError(bio.CodeUnsupportedFormat, "unsupported chunk grid %q", m.ChunkGrid.Name)
	}
	var grid regularGridV3
	if err := json.Unmarshal(m.ChunkGrid.Configuration, &grid); err != nil {
		return nil, nil, bio.WrapError(err, bio.CodeUnsupportedFormat, "bad chunk grid")
	}
	if len(grid.ChunkShape) != len(m.Shape) {
		return nil, nil, bio.NewError(bio.CodeInvalidChunkShape, "chunks %v do not match shape %v", grid.ChunkShape, m.Shape)
	}
	var keyEnc keyEncodingV3
	if len(m.ChunkKeyEncoding.Configuration) != 0 {
		if err := json.Unmarshal(m.ChunkKeyEncoding.Configuration, &keyEnc); err != nil {
			return nil, nil, bio.WrapError(err, bio.CodeUnsupportedFormat, "bad chunk key encoding")
		}
	}
	a := &Array{
		desc: &bio.ImageDescriptor{
			ArrayShape: m.Shape,
			ChunkShape: grid.ChunkShape,
			DType:      dtype,
			Kind:       bio.OmeZarrV3,
		},
		separator: keyEnc.Separator,
	}
	switch m.ChunkKeyEncoding.Name {
	case "default", "":
		a.keyPrefix = "c"
		if a.separator == "" {
			a.separator = "/"
		}
		a.keyPrefix += a.separator
	case "v2":
		if a.separator == "" {
			a.separator = "."
		}
	default:
		return nil, nil, bio.NewError(bio.CodeUnsupportedFormat, "unsupported chunk key encoding %q", m.ChunkKeyEncoding.Name)
	}
	if a.desc.FillValue, err = decodeFill(m.FillValue); err != nil {
		return nil, nil, bio.WrapError(err, bio.CodeUnsupportedFormat, "bad fill value in %s", store)
	}

	for _, c := range m.Codecs {
		spec := codec.Spec{Name: c.Name, TypeSize: dtype.Bytes()}
		switch c.Name {
		case "bytes":
			var cfg bytesV3
			if len(c.Configuration) != 0 {
				if err := json.Unmarshal(c.Configuration, &cfg); err != nil {
					return nil, nil, bio.WrapError(err, bio.CodeUnsupportedFormat, "bad bytes codec")
				}
			}
			a.bigEndian = cfg.Endian == "big" && dtype.Bytes() > 1
			continue
		case "blosc":
			var cfg bloscV3
			if err := json.Unmarshal(c.Configuration, &cfg); err != nil {
				return nil, nil, bio.WrapError(err, bio.CodeUnsupportedFormat, "bad blosc codec")
			}
			spec.CName, spec.Level = cfg.CName, cfg.CLevel
			for i, name := range bloscShuffleNames {
				if strings.EqualFold(cfg.Shuffle, name) {
					spec.Shuffle = i
				}
			}
		case "zstd", "gzip", "zlib":
			var cfg levelV3
			if len(c.Configuration) != 0 {
				if err := json.Unmarshal(c.Configuration, &cfg); err != nil {
					return nil, nil, bio.WrapError(err, bio.CodeUnsupportedFormat, "bad %s codec", c.Name)
				}
			}
			spec.Level = cfg.Level
		case "crc32c", "lz4":
		default:
			return nil, nil, bio.NewError(bio.CodeUnsupportedFormat, "unsupported zarr codec %q", c.Name)
		}
		cd, err := codec.New(spec)
		if err != nil {
			return nil, nil, err
		}
		a.chain = append(a.chain, cd)
		if c.Name != "crc32c" {
			a.desc.Compressor = spec.String()
		}
	}
	if a.desc.Compressor == "" {
		a.desc.Compressor = codec.Spec{}.String()
	}
	return a, m.DimensionNames, nil
}
