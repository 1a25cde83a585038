package dispatch

import "github.com/backkem/trustlink/pkg/status"

// Dispatch errors. Envelope verification failures are returned as the
// envelope package's own errors.
var (
	// ErrUnknownType indicates an envelope with an unassigned message type.
	ErrUnknownType = status.New(status.KindInternal, "dispatch: unknown message type")

	// ErrNoHandler indicates a valid message type nobody registered for.
	ErrNoHandler = status.New(status.KindInternal, "dispatch: no handler registered")

	// ErrStale indicates an envelope timestamp outside the allowed skew.
	ErrStale = status.New(status.KindAuth, "dispatch: envelope timestamp outside allowed skew")

	// ErrReplay indicates an envelope nonce seen before within its window.
	ErrReplay = status.New(status.KindAuth, "dispatch: replayed envelope")
)
