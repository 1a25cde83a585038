package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Number is a field number.
type Number = protowire.Number

// Encoder appends fields to a buffer. Callers must write fields in
// ascending number order.
type Encoder struct {
	buf  []byte
	last Number
}

// NewEncoder creates an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) tag(num Number, typ protowire.Type) {
	if num <= e.last {
		panic("wire: fields must be encoded in ascending order")
	}
	e.last = num
	e.buf = protowire.AppendTag(e.buf, num, typ)
}

// Bytes writes a length-delimited field. Empty values are omitted.
func (e *Encoder) Bytes(num Number, b []byte) *Encoder {
	if len(b) == 0 {
		return e
	}
	e.tag(num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, b)
	return e
}

// String writes a UTF-8 string field. Empty values are omitted.
func (e *Encoder) String(num Number, s string) *Encoder {
	if s == "" {
		return e
	}
	e.tag(num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, s)
	return e
}

// Uint64 writes a varint field. Zero is omitted.
func (e *Encoder) Uint64(num Number, v uint64) *Encoder {
	if v == 0 {
		return e
	}
	e.tag(num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
	return e
}

// Int64 writes a zigzag varint field. Zero is omitted.
func (e *Encoder) Int64(num Number, v int64) *Encoder {
	return e.Uint64(num, protowire.EncodeZigZag(v))
}

// Bool writes a boolean field. False is omitted.
func (e *Encoder) Bool(num Number, v bool) *Encoder {
	if !v {
		return e
	}
	return e.Uint64(num, 1)
}

// Message writes a nested record produced by fn.
func (e *Encoder) Message(num Number, fn func(*Encoder)) *Encoder {
	inner := NewEncoder()
	fn(inner)
	if len(inner.buf) == 0 {
		return e
	}
	return e.Bytes(num, inner.buf)
}

// RepeatedBytes writes each element as its own field occurrence, in order.
// Repetition is the one case where a number may recur, so the ordering
// check is relaxed for consecutive occurrences of num.
func (e *Encoder) RepeatedBytes(num Number, items [][]byte) *Encoder {
	for i, b := range items {
		if i == 0 {
			e.tag(num, protowire.BytesType)
		} else {
			e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
		}
		e.buf = protowire.AppendBytes(e.buf, b)
	}
	return e
}

// Encode returns the encoded bytes.
func (e *Encoder) Encode() []byte {
	return e.buf
}
