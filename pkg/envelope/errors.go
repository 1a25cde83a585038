package envelope

import "github.com/backkem/trustlink/pkg/status"

// Envelope errors. ErrSignature and ErrDecrypt are deliberately distinct so
// callers can log and count them separately.
var (
	// ErrSignature indicates the sender signature did not verify. The
	// ciphertext was not touched.
	ErrSignature = status.New(status.KindAuth, "envelope: signature verification failed")

	// ErrDecrypt indicates the AEAD tag did not verify after a valid signature.
	ErrDecrypt = status.New(status.KindAuth, "envelope: decryption failed")

	// ErrSenderMismatch indicates sender_id is not derived from sender_sign_pub.
	ErrSenderMismatch = status.New(status.KindAuth, "envelope: sender id does not match signing key")

	// ErrUnknownSender indicates the presented signing key is not the one
	// pinned for the sender.
	ErrUnknownSender = status.New(status.KindAuth, "envelope: sender key not recognized")

	// ErrWrongRecipient indicates the envelope is addressed to someone else.
	ErrWrongRecipient = status.New(status.KindAuth, "envelope: wrong recipient")

	// ErrVersion indicates an unsupported envelope version.
	ErrVersion = status.New(status.KindAuth, "envelope: unsupported version")

	// ErrMalformed indicates an envelope that does not decode.
	ErrMalformed = status.New(status.KindAuth, "envelope: malformed")
)
