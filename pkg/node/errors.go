package node

import "github.com/backkem/trustlink/pkg/status"

// Node errors.
var (
	// ErrClosed is returned after Close.
	ErrClosed = status.New(status.KindInternal, "node: closed")

	// ErrUnknownSession indicates a message or call for a session the node
	// does not track.
	ErrUnknownSession = status.New(status.KindInternal, "node: unknown session")

	// ErrSenderMismatch indicates an envelope whose sender is not the
	// principal named inside the message.
	ErrSenderMismatch = status.New(status.KindAuth, "node: envelope sender does not match message")

	// ErrNoPairing indicates no pairing attempt with the peer is in progress.
	ErrNoPairing = status.New(status.KindInternal, "node: no pairing in progress")

	// ErrPairingInProgress indicates a pairing attempt with the peer is
	// already running.
	ErrPairingInProgress = status.New(status.KindInternal, "node: pairing already in progress")

	// ErrMalformed indicates a payload that does not decode.
	ErrMalformed = status.New(status.KindInternal, "node: malformed message")
)

// Configuration errors.
var (
	ErrIdentityRequired = status.New(status.KindInternal, "node: identity is required")
	ErrStoreRequired    = status.New(status.KindInternal, "node: store is required")
	ErrSenderRequired   = status.New(status.KindInternal, "node: sender is required")
	ErrPolicyRequired   = status.New(status.KindInternal, "node: policy is required")
)
