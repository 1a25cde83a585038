package wire

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field is one decoded field value.
type Field struct {
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// Uint64 returns a varint field value.
func (f Field) Uint64() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, ErrWireType
	}
	return f.varint, nil
}

// Uint32 returns a varint field value that must fit in 32 bits.
func (f Field) Uint32() (uint32, error) {
	v, err := f.bounded(math.MaxUint32)
	return uint32(v), err
}

// Uint16 returns a varint field value that must fit in 16 bits.
func (f Field) Uint16() (uint16, error) {
	v, err := f.bounded(math.MaxUint16)
	return uint16(v), err
}

// Uint8 returns a varint field value that must fit in 8 bits.
func (f Field) Uint8() (uint8, error) {
	v, err := f.bounded(math.MaxUint8)
	return uint8(v), err
}

func (f Field) bounded(max uint64) (uint64, error) {
	v, err := f.Uint64()
	if err != nil {
		return 0, err
	}
	if v > max {
		return 0, ErrOverflow
	}
	return v, nil
}

// Int64 returns a zigzag varint field value.
func (f Field) Int64() (int64, error) {
	v, err := f.Uint64()
	if err != nil {
		return 0, err
	}
	return protowire.DecodeZigZag(v), nil
}

// Bool returns a boolean field value.
func (f Field) Bool() (bool, error) {
	v, err := f.Uint64()
	return v != 0, err
}

// Bytes returns a copy of a length-delimited field value.
func (f Field) Bytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, ErrWireType
	}
	return append([]byte(nil), f.bytes...), nil
}

// String returns a string field value.
func (f Field) String() (string, error) {
	if f.typ != protowire.BytesType {
		return "", ErrWireType
	}
	return string(f.bytes), nil
}

// Array32 copies a 32-byte field into dst.
func (f Field) Array32(dst *[32]byte) error {
	if f.typ != protowire.BytesType {
		return ErrWireType
	}
	if len(f.bytes) != 32 {
		return ErrFieldSize
	}
	copy(dst[:], f.bytes)
	return nil
}

// Array16 copies a 16-byte field into dst.
func (f Field) Array16(dst *[16]byte) error {
	if f.typ != protowire.BytesType {
		return ErrWireType
	}
	if len(f.bytes) != 16 {
		return ErrFieldSize
	}
	copy(dst[:], f.bytes)
	return nil
}

// Decode walks the fields of b in order and calls fn for each. Unknown
// field numbers should be ignored by fn. Fields must appear in ascending
// order; a number may only repeat in consecutive occurrences.
func Decode(b []byte, fn func(num Number, f Field) error) error {
	var last Number
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ErrTruncated
		}
		if num < last {
			return ErrNonCanonical
		}
		last = num
		b = b[n:]

		var f Field
		f.typ = typ
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return ErrTruncated
			}
			f.varint = v
			b = b[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return ErrTruncated
			}
			f.bytes = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return ErrTruncated
			}
			b = b[m:]
			continue
		}

		if err := fn(num, f); err != nil {
			return err
		}
	}
	return nil
}
