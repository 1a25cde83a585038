package store

import "github.com/backkem/trustlink/pkg/status"

// Store errors.
var (
	// ErrNotFound indicates the key does not exist.
	ErrNotFound = status.New(status.KindStore, "store: not found")

	// ErrClosed indicates use of a closed store.
	ErrClosed = status.New(status.KindStore, "store: closed")

	// ErrCorrupt indicates a stored record failed to decode.
	ErrCorrupt = status.New(status.KindStore, "store: corrupt record")

	// ErrInvalidKey indicates an empty bucket or key.
	ErrInvalidKey = status.New(status.KindStore, "store: invalid key")

	// ErrIDMismatch indicates a record whose ids do not match its keys.
	ErrIDMismatch = status.New(status.KindStore, "store: record id does not match public key")
)

// ErrInviteConsumed indicates a second use of a single-use invite.
var ErrInviteConsumed = status.New(status.KindAuth, "store: invite already consumed")
