package crypto

import (
	"crypto/sha256"
	"encoding"
	"encoding/binary"
	"hash"
	"math"
)

// TagDomain is the reserved tag under which a transcript's domain label is
// appended. Callers number their own fields from 1.
const TagDomain uint32 = 0

// Transcript is a canonical, domain-separated accumulator over SHA-256.
//
// Each Append writes tag (4 bytes BE) || len (4 bytes BE) || data into the
// running digest, so distinct field sequences can never collide by
// concatenation. Finalize is one-shot: any use after it panics with
// ErrTranscriptFinalized, since that is a programming error.
//
// A Transcript is not safe for concurrent use.
type Transcript struct {
	h         hash.Hash
	finalized bool
}

// NewTranscript starts a transcript bound to the given domain label.
func NewTranscript(domain string) *Transcript {
	t := &Transcript{h: sha256.New()}
	t.Append(TagDomain, []byte(domain))
	return t
}

// Append writes one tagged field.
func (t *Transcript) Append(tag uint32, data []byte) *Transcript {
	t.mustOpen()
	if uint64(len(data)) > math.MaxUint32 {
		panic("crypto: transcript field exceeds 4 GiB")
	}
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], tag)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(data)))
	t.h.Write(hdr[:])
	t.h.Write(data)
	return t
}

// AppendUint64 writes v as an 8-byte big-endian field.
func (t *Transcript) AppendUint64(tag uint32, v uint64) *Transcript {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return t.Append(tag, b[:])
}

// AppendUint32 writes v as a 4-byte big-endian field.
func (t *Transcript) AppendUint32(tag uint32, v uint32) *Transcript {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return t.Append(tag, b[:])
}

// AppendString writes s as a UTF-8 byte field.
func (t *Transcript) AppendString(tag uint32, s string) *Transcript {
	return t.Append(tag, []byte(s))
}

// Fork returns an independent copy of the accumulated state. Appends to
// either copy do not affect the other.
func (t *Transcript) Fork() *Transcript {
	t.mustOpen()
	state, err := t.h.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		panic(err)
	}
	h := sha256.New()
	if err := h.(encoding.BinaryUnmarshaler).UnmarshalBinary(state); err != nil {
		panic(err)
	}
	return &Transcript{h: h}
}

// Finalize returns the digest and closes the transcript.
func (t *Transcript) Finalize() [SHA256LenBytes]byte {
	t.mustOpen()
	t.finalized = true
	var out [SHA256LenBytes]byte
	copy(out[:], t.h.Sum(nil))
	return out
}

// Finalized reports whether Finalize has been called.
func (t *Transcript) Finalized() bool {
	return t.finalized
}

func (t *Transcript) mustOpen() {
	if t.finalized {
		panic(ErrTranscriptFinalized)
	}
}
