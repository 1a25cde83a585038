package identity

import "github.com/backkem/trustlink/pkg/status"

// Identity errors.
var (
	// ErrBadSignature indicates a signature did not verify.
	ErrBadSignature = status.New(status.KindAuth, "identity: signature verification failed")

	// ErrIDMismatch indicates an ID that is not the digest of the presented key.
	ErrIDMismatch = status.New(status.KindAuth, "identity: id does not match public key")

	// ErrDestroyed indicates use of an identity after Destroy.
	ErrDestroyed = status.New(status.KindInternal, "identity: key material destroyed")

	// ErrLowOrderPoint indicates a key exchange produced the all-zero secret.
	ErrLowOrderPoint = status.New(status.KindAuth, "identity: invalid peer key exchange key")

	// ErrInvalidID indicates an ID string that does not parse.
	ErrInvalidID = status.New(status.KindInternal, "identity: invalid id encoding")

	// ErrWrongPassphrase indicates the keystore could not be opened.
	ErrWrongPassphrase = status.New(status.KindAuth, "identity: wrong passphrase or corrupted keystore")

	// ErrKeystoreVersion indicates an unsupported keystore format.
	ErrKeystoreVersion = status.New(status.KindInternal, "identity: unsupported keystore version")
)
