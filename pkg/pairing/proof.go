// Package pairing implements first-contact trust establishment between a
// device and an operator.
//
// The device (Host) issues an invite carrying its public keys and the hash
// of a random secret. The invite code, which also carries the secret, is
// handed to the operator out of band. The operator (Controller) proves
// knowledge of the secret with an HMAC over its request, the device
// answers with a signed receipt, and both sides display a short
// authentication string (SAS) for a human to compare before the pairing is
// persisted.
package pairing

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/trustlink/pkg/crypto"
)

// SecretSize is the size of invite secrets.
const SecretSize = 32

// SASDigits is the length of the short authentication string.
const SASDigits = 6

const sasModulus = 1_000_000

// GenerateInviteProof returns HMAC-SHA256(secret, digest), where digest is
// the request transcript digest.
func GenerateInviteProof(secret []byte, digest [crypto.SHA256LenBytes]byte) [crypto.SHA256LenBytes]byte {
	return crypto.HMACSHA256(secret, digest[:])
}

// VerifyInviteProof checks proof in constant time.
func VerifyInviteProof(secret []byte, digest [crypto.SHA256LenBytes]byte, proof []byte) error {
	want := GenerateInviteProof(secret, digest)
	if !crypto.HMACEqual(want[:], proof) {
		return ErrInvalidProof
	}
	return nil
}

// ComputeSAS maps a transcript digest to a zero-padded 6-digit string.
// Byte-identical digests always yield the same string.
func ComputeSAS(digest [crypto.SHA256LenBytes]byte) string {
	v := binary.BigEndian.Uint32(digest[:4]) % sasModulus
	return fmt.Sprintf("%0*d", SASDigits, v)
}
