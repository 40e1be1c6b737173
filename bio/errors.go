package bio

import (
	"github.com/jmgilman/go/errors"
)

// Error codes for the failures surfaced by readers and writers.  Validation errors are
// always reported before any storage I/O is issued.
const (
	// CodeInvalidDimensionOrder is a missing X/Y, duplicated or unrecognized axis symbol.
	CodeInvalidDimensionOrder errors.ErrorCode = "INVALID_DIMENSION_ORDER"

	// CodeInvalidChunkShape is a chunk shape the backend cannot represent.
	CodeInvalidChunkShape errors.ErrorCode = "INVALID_CHUNK_SHAPE"

	// CodeShapeMismatch is a source buffer whose shape or type disagrees with a request.
	CodeShapeMismatch errors.ErrorCode = "SHAPE_MISMATCH"

	// CodeOutOfRange is a requested range that exceeds the image extent.
	CodeOutOfRange errors.ErrorCode = "OUT_OF_RANGE"

	// CodeUnsupportedFormat is a path whose contents match no known format signature.
	CodeUnsupportedFormat errors.ErrorCode = "UNSUPPORTED_FORMAT"

	// CodeStoreIO is a failure propagated from the underlying store.
	CodeStoreIO errors.ErrorCode = "STORE_IO"

	// CodeClosed is an operation issued on a handle after Close.
	CodeClosed errors.ErrorCode = "CLOSED"

	// CodeInvalidInput is any other malformed argument, e.g., an unknown dtype tag.
	CodeInvalidInput = errors.CodeInvalidInput
)

func NewError(code errors.ErrorCode, format string, args ...interface{}) error {
	return errors.Newf(code, format, args...)
}

// WrapError attaches an error code to a lower-level error.  Returns nil if err is nil.
func WrapError(err error, code errors.ErrorCode, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, code, format, args...)
}

// StoreError wraps a failure from the storage layer, keeping any code already attached.
func StoreError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		return errors.Wrapf(err, code, format, args...)
	}
	return errors.Wrapf(err, CodeStoreIO, format, args...)
}

// ErrorCode returns the code of the outermost coded error in err's chain.
func ErrorCode(err error) errors.ErrorCode {
	return errors.GetCode(err)
}

func IsInvalidDimensionOrder(err error) bool { return ErrorCode(err) == CodeInvalidDimensionOrder }
func IsInvalidChunkShape(err error) bool     { return ErrorCode(err) == CodeInvalidChunkShape }
func IsShapeMismatch(err error) bool         { return ErrorCode(err) == CodeShapeMismatch }
func IsOutOfRange(err error) bool            { return ErrorCode(err) == CodeOutOfRange }
func IsUnsupportedFormat(err error) bool     { return ErrorCode(err) == CodeUnsupportedFormat }
func IsStoreIO(err error) bool               { return ErrorCode(err) == CodeStoreIO }
func IsClosed(err error) bool                { return ErrorCode(err) == CodeClosed }
func IsInvalidInput(err error) bool          { return ErrorCode(err) == CodeInvalidInput }
