// Package crypto provides the cryptographic primitives shared by the
// trust-establishment protocol: hashing, MACs, key derivation, AEAD and the
// canonical transcript hasher every signature and commitment is built on.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SHA256LenBytes is the SHA-256 output length in bytes.
const SHA256LenBytes = sha256.Size

// SHA256 computes the SHA-256 digest of a message.
func SHA256(message []byte) [SHA256LenBytes]byte {
	return sha256.Sum256(message)
}

// HMACSHA256 computes the HMAC-SHA256 of message under key.
func HMACSHA256(key, message []byte) [SHA256LenBytes]byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	var out [SHA256LenBytes]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HMACEqual compares two MACs in constant time.
func HMACEqual(mac1, mac2 []byte) bool {
	return hmac.Equal(mac1, mac2)
}

// HKDFSHA256 derives length bytes with HKDF-SHA256 (RFC 5869). info is the
// domain string binding the output to its use.
func HKDFSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, inputKey, salt, info), out); err != nil {
		return nil, err
	}
	return out, nil
}
