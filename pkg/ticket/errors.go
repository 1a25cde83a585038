package ticket

import "github.com/backkem/trustlink/pkg/status"

// Ticket errors.
var (
	// ErrTicketSignature indicates the device signature did not verify.
	ErrTicketSignature = status.New(status.KindAuth, "ticket: signature verification failed")

	// ErrTicketExpired indicates expires_at is not after now.
	ErrTicketExpired = status.New(status.KindTicket, "ticket: expired")

	// ErrBindingMismatch indicates the ticket is bound to a different session.
	ErrBindingMismatch = status.New(status.KindTicket, "ticket: session binding mismatch")

	// ErrRevoked indicates the ticket was explicitly revoked.
	ErrRevoked = status.New(status.KindTicket, "ticket: revoked")

	// ErrDeviceMismatch indicates a ticket signed by an identity other than
	// its device_id.
	ErrDeviceMismatch = status.New(status.KindAuth, "ticket: device id does not match signer")

	// ErrMalformed indicates a ticket that does not decode.
	ErrMalformed = status.New(status.KindTicket, "ticket: malformed")
)
