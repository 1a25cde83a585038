package session

import "github.com/backkem/trustlink/pkg/status"

// Session errors.
var (
	// ErrInvalidState is returned when an operation is not valid in the
	// current state.
	ErrInvalidState = status.New(status.KindInternal, "session: invalid state for operation")

	// ErrNotPaired indicates the requester has no pairing with this device.
	ErrNotPaired = status.New(status.KindAuth, "session: operator is not paired")

	// ErrBadSignature indicates a session message signature did not verify.
	ErrBadSignature = status.New(status.KindAuth, "session: message signature verification failed")

	// ErrWrongPeer indicates a message addressed to or from someone else.
	ErrWrongPeer = status.New(status.KindAuth, "session: message is for a different peer")

	// ErrSessionMismatch indicates a message for another session.
	ErrSessionMismatch = status.New(status.KindAuth, "session: session id mismatch")

	// ErrConsentDenied indicates the device refused the session.
	ErrConsentDenied = status.New(status.KindPermission, "session: consent denied")

	// ErrPermissionCeiling indicates a ticket granting more than the
	// pairing or the request allows.
	ErrPermissionCeiling = status.New(status.KindPermission, "session: ticket exceeds permission ceiling")

	// ErrChannelNotPermitted indicates traffic on a channel the ticket does
	// not cover.
	ErrChannelNotPermitted = status.New(status.KindPermission, "session: channel not permitted by ticket")

	// ErrTicketMismatch indicates a renewal or resume for a ticket other
	// than the session's current one.
	ErrTicketMismatch = status.New(status.KindTicket, "session: ticket does not belong to session")

	// ErrStale indicates a request timestamp outside the allowed skew.
	ErrStale = status.New(status.KindAuth, "session: request timestamp outside allowed skew")

	// ErrTimeout indicates a state machine gave up waiting.
	ErrTimeout = status.New(status.KindInternal, "session: timed out")

	// ErrEnded indicates use of an ended session.
	ErrEnded = status.New(status.KindInternal, "session: ended")

	// ErrKeysDestroyed indicates use of zeroized session keys.
	ErrKeysDestroyed = status.New(status.KindInternal, "session: keys destroyed")

	// ErrInvalidChannel indicates an unknown channel.
	ErrInvalidChannel = status.New(status.KindInternal, "session: invalid channel")

	// ErrSequenceNotMonotonic indicates a send sequence that does not
	// exceed the last one used on the channel.
	ErrSequenceNotMonotonic = status.New(status.KindInternal, "session: sequence number not increasing")

	// ErrCounterExhausted indicates the channel's sequence space is used up.
	ErrCounterExhausted = status.New(status.KindInternal, "session: sequence counter exhausted")

	// ErrReplay indicates a sequence number already seen on the stream.
	ErrReplay = status.New(status.KindAuth, "session: replayed sequence number")

	// ErrTooOld indicates a sequence number behind the replay window.
	ErrTooOld = status.New(status.KindAuth, "session: sequence number outside replay window")

	// ErrDecrypt indicates a channel message failed authentication.
	ErrDecrypt = status.New(status.KindAuth, "session: channel decryption failed")

	// ErrMalformed indicates a message that does not decode.
	ErrMalformed = status.New(status.KindInternal, "session: malformed message")

	// ErrTableFull indicates no room for another session.
	ErrTableFull = status.New(status.KindInternal, "session: session table full")

	// ErrInvalidSessionID indicates the nil session id.
	ErrInvalidSessionID = status.New(status.KindInternal, "session: invalid session id")

	// ErrDuplicateSession indicates a session id already in the table.
	ErrDuplicateSession = status.New(status.KindInternal, "session: duplicate session id")

	// ErrNotFound indicates no session with the given id.
	ErrNotFound = status.New(status.KindInternal, "session: session not found")
)
