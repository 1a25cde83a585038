package crypto

import "errors"

// Errors for crypto operations.
var (
	// ErrInvalidKeySize indicates a symmetric key of the wrong length.
	ErrInvalidKeySize = errors.New("crypto: invalid key size, must be 32 bytes")

	// ErrInvalidNonceSize indicates an AEAD nonce of the wrong length.
	ErrInvalidNonceSize = errors.New("crypto: invalid nonce size, must be 12 bytes")

	// ErrAuthFailed indicates AEAD tag verification failed.
	ErrAuthFailed = errors.New("crypto: message authentication failed")

	// ErrTranscriptFinalized is the panic value raised when a finalized
	// transcript is written to or finalized again.
	ErrTranscriptFinalized = errors.New("crypto: transcript already finalized")
)
