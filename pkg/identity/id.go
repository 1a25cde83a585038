package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeySize is the length of every public and private key handled here.
const KeySize = 32

// ID identifies a principal. It is always SHA-256 of the principal's
// Ed25519 public key.
type ID [32]byte

// IDFromSignKey derives the ID for a signing public key.
func IDFromSignKey(signPub [KeySize]byte) ID {
	return ID(sha256.Sum256(signPub[:]))
}

// ParseID decodes the hex form produced by String.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, ErrInvalidID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the full lowercase hex encoding.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns a 20-character fingerprint suitable for logs and UIs.
func (id ID) Short() string {
	return hex.EncodeToString(id[:10])
}

// IsZero reports whether id is unset.
func (id ID) IsZero() bool {
	return id == ID{}
}

// PublicKeys is the public half of an Identity.
type PublicKeys struct {
	Sign [KeySize]byte // Ed25519
	KEX  [KeySize]byte // X25519
}

// ID returns the ID derived from the signing key.
func (p PublicKeys) ID() ID {
	return IDFromSignKey(p.Sign)
}

// CheckID verifies that id is derived from p's signing key.
func (p PublicKeys) CheckID(id ID) error {
	if p.ID() != id {
		return ErrIDMismatch
	}
	return nil
}
