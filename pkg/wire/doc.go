// Package wire implements the canonical field codec used by every message
// and stored record.
//
// Records are encoded in the protobuf wire format (via protowire) with two
// additional rules that make the encoding canonical: fields are written in
// strictly ascending field-number order, and zero values are omitted.
// Fixed-size fields (ids, keys, digests) are always written at full length,
// since an all-zero array is still a value. The Decoder rejects input that
// violates the ordering rule, so one value has exactly one accepted
// encoding.
//
// Signatures never cover these bytes directly; they cover a crypto.Transcript
// built from the decoded fields.
package wire
