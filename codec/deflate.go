package codec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/janelia-flyem/bfio/bio"
)

type gzipCodec struct {
	level int
}

func newGzip(spec Spec) (Codec, error) {
	level := spec.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, bio.NewError(bio.CodeInvalidInput, "bad gzip level %d", spec.Level)
	}
	return gzipCodec{level}, nil
}

func (c gzipCodec) Name() string { return "gzip" }

func (c gzipCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c gzipCodec) Decode(src []byte, size int) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, bio.WrapError(err, bio.CodeStoreIO, "bad gzip chunk")
	}
	defer zr.Close()
	out, err := readAll(zr, size)
	if err != nil {
		return nil, bio.WrapError(err, bio.CodeStoreIO, "bad gzip chunk")
	}
	return checkSize("gzip", out, size)
}

type zlibCodec struct {
	level int
}

func newZlib(spec Spec) (Codec, error) {
	level := spec.Level
	if level == 0 {
		level = zlib.DefaultCompression
	}
	if level < -2 || level > zlib.BestCompression {
		return nil, bio.NewError(bio.CodeInvalidInput, "bad zlib level %d", spec.Level)
	}
	return zlibCodec{level}, nil
}

func (c zlibCodec) Name() string { return "zlib" }

func (c zlibCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c zlibCodec) Decode(src []byte, size int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, bio.WrapError(err, bio.CodeStoreIO, "bad zlib chunk")
	}
	defer zr.Close()
	out, err := readAll(zr, size)
	if err != nil {
		return nil, bio.WrapError(err, bio.CodeStoreIO, "bad zlib chunk")
	}
	return checkSize("zlib", out, size)
}

func readAll(r io.Reader, size int) ([]byte, error) {
	if size < 0 {
		return io.ReadAll(r)
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	_, err := io.Copy(buf, r)
	return buf.Bytes(), err
}

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll calls.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstd(spec Spec) (Codec, error) {
	level := zstd.SpeedDefault
	if spec.Level != 0 {
		level = zstd.EncoderLevelFromZstd(spec.Level)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderCRC(false))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCodec{enc, dec}, nil
}

func (c *zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Encode(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

func (c *zstdCodec) Decode(src []byte, size int) ([]byte, error) {
	var dst []byte
	if size > 0 {
		dst = make([]byte, 0, size)
	}
	out, err := c.dec.DecodeAll(src, dst)
	if err != nil {
		return nil, bio.WrapError(err, bio.CodeStoreIO, "bad zstd chunk")
	}
	return checkSize("zstd", out, size)
}
