package crypto

import (
	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD constants for ChaCha20-Poly1305 (RFC 8439).
const (
	// SymmetricKeySize is the AEAD key length in bytes.
	SymmetricKeySize = chacha20poly1305.KeySize

	// AEADNonceSize is the AEAD nonce length in bytes.
	AEADNonceSize = chacha20poly1305.NonceSize

	// AEADTagSize is the authentication tag length in bytes.
	AEADTagSize = chacha20poly1305.Overhead
)

// SealAEAD encrypts and authenticates plaintext with ChaCha20-Poly1305.
//
// Returns ciphertext || tag.
func SealAEAD(key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, ErrInvalidKeySize
	}
	if len(nonce) != AEADNonceSize {
		return nil, ErrInvalidNonceSize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// OpenAEAD verifies and decrypts ciphertext produced by SealAEAD.
// Returns ErrAuthFailed if the tag does not verify.
func OpenAEAD(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, ErrInvalidKeySize
	}
	if len(nonce) != AEADNonceSize {
		return nil, ErrInvalidNonceSize
	}
	if len(ciphertext) < AEADTagSize {
		return nil, ErrAuthFailed
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
