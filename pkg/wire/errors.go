package wire

import "errors"

// Decoding errors.
var (
	// ErrTruncated indicates the input ended inside a field.
	ErrTruncated = errors.New("wire: truncated input")

	// ErrNonCanonical indicates fields out of ascending order or repeated.
	ErrNonCanonical = errors.New("wire: non-canonical field order")

	// ErrWireType indicates a field carried an unexpected wire type.
	ErrWireType = errors.New("wire: unexpected wire type")

	// ErrFieldSize indicates a fixed-size field had the wrong length.
	ErrFieldSize = errors.New("wire: invalid field size")

	// ErrOverflow indicates a varint too large for the field's type.
	ErrOverflow = errors.New("wire: value out of range")

	// ErrMissingField indicates a required field was absent.
	ErrMissingField = errors.New("wire: missing required field")
)
