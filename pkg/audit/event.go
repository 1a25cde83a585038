// Package audit records signed pairing, session and policy events.
//
// Events carry identifiers, permissions and short reasons only. There is
// no field for key material, invite secrets or session keys, so none can
// leak through a sink.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/crypto"
	"github.com/backkem/trustlink/pkg/identity"
)

// Type names an event.
type Type string

// Event types.
const (
	PairingRequested Type = "pairing.requested"
	PairingApproved  Type = "pairing.approved"
	PairingRejected  Type = "pairing.rejected"
	PairingFailed    Type = "pairing.failed"
	PairingConfirmed Type = "pairing.confirmed"
	PairingRevoked   Type = "pairing.revoked"
	SessionRequested Type = "session.requested"
	SessionDenied    Type = "session.denied"
	SessionStarted   Type = "session.started"
	SessionEnded     Type = "session.ended"
	TicketRenewed    Type = "ticket.renewed"
	TicketRevoked    Type = "ticket.revoked"
	PolicyViolation  Type = "policy.violation"
	AuthFailure      Type = "auth.failure"
	RateLimitBlocked Type = "ratelimit.blocked"
)

const eventDomain = "trustlink/audit-event/v1"

// Event is one audit record.
type Event struct {
	Type        Type
	Time        time.Time
	DeviceID    identity.ID // Signer
	PeerID      identity.ID // Operator or device on the other side, if known
	SessionID   uuid.UUID
	Permissions acl.Permission
	Source      string // Transport-level source, e.g. a remote address
	Reason      string
	Signature   []byte
}

// Digest returns the transcript digest over every field except Signature.
func (e *Event) Digest() [crypto.SHA256LenBytes]byte {
	return crypto.NewTranscript(eventDomain).
		AppendString(1, string(e.Type)).
		AppendUint64(2, uint64(e.Time.UnixMilli())).
		Append(3, e.DeviceID[:]).
		Append(4, e.PeerID[:]).
		Append(5, e.SessionID[:]).
		AppendUint32(6, uint32(e.Permissions)).
		AppendString(7, e.Source).
		AppendString(8, e.Reason).
		Finalize()
}

// Sign sets DeviceID and Signature using device.
func Sign(e *Event, device *identity.Identity) error {
	e.DeviceID = device.ID()
	e.Time = e.Time.Truncate(time.Millisecond)
	sig, err := device.SignDigest(e.Digest())
	if err != nil {
		return err
	}
	e.Signature = sig
	return nil
}

// Verify checks the event signature against the device signing key.
func Verify(e *Event, deviceSignPub [identity.KeySize]byte) error {
	if identity.IDFromSignKey(deviceSignPub) != e.DeviceID {
		return identity.ErrIDMismatch
	}
	return identity.VerifyDigest(deviceSignPub, e.Digest(), e.Signature)
}
