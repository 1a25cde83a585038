package transport

import "github.com/backkem/trustlink/pkg/status"

// Transport errors.
var (
	// ErrNoMutualTransport indicates no offered candidate is supported locally.
	ErrNoMutualTransport = status.New(status.KindTransport, "transport: no mutually supported transport")

	// ErrPlanExhausted indicates every candidate in a plan has been rejected.
	ErrPlanExhausted = status.New(status.KindTransport, "transport: all candidates exhausted")

	// ErrInvalidKind indicates an unknown transport kind.
	ErrInvalidKind = status.New(status.KindTransport, "transport: invalid transport kind")

	// ErrClosed indicates use of a closed link.
	ErrClosed = status.New(status.KindTransport, "transport: link closed")
)

// ErrDatagramTooLarge indicates a datagram exceeds MaxDatagramSize.
var ErrDatagramTooLarge = status.New(status.KindTransport, "transport: datagram too large")
