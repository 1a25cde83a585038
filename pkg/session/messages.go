package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/crypto"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/ticket"
	"github.com/backkem/trustlink/pkg/transport"
)

// NonceSize is the size of request nonces.
const NonceSize = 16

// Transcript domains.
const (
	initRequestDomain    = "trustlink/session-init-request/v1"
	initResponseDomain   = "trustlink/session-init-response/v1"
	resumeRequestDomain  = "trustlink/session-resume-request/v1"
	resumeResponseDomain = "trustlink/session-resume-response/v1"
)

// InitRequest is the operator's SessionInitRequest.
type InitRequest struct {
	SessionID           uuid.UUID
	OperatorID          identity.ID
	DeviceID            identity.ID
	Permissions         acl.Permission // Requested
	ControllerEphemeral [identity.KeySize]byte
	Nonce               [NonceSize]byte
	Timestamp           time.Time
	Transports          []transport.Candidate // Controller's offer
	Signature           []byte
}

func (r *InitRequest) digest() [crypto.SHA256LenBytes]byte {
	t := crypto.NewTranscript(initRequestDomain).
		Append(1, r.SessionID[:]).
		Append(2, r.OperatorID[:]).
		Append(3, r.DeviceID[:]).
		AppendUint32(4, uint32(r.Permissions)).
		Append(5, r.ControllerEphemeral[:]).
		Append(6, r.Nonce[:]).
		AppendUint64(7, uint64(r.Timestamp.UnixMilli()))
	appendCandidates(t, 8, r.Transports)
	return t.Finalize()
}

// Sign signs the request as the operator.
func (r *InitRequest) Sign(operator *identity.Identity) error {
	r.Timestamp = r.Timestamp.Truncate(time.Millisecond)
	sig, err := operator.SignDigest(r.digest())
	r.Signature = sig
	return err
}

// Verify checks the operator signature.
func (r *InitRequest) Verify(operatorSignPub [identity.KeySize]byte) error {
	if identity.IDFromSignKey(operatorSignPub) != r.OperatorID {
		return ErrWrongPeer
	}
	if identity.VerifyDigest(operatorSignPub, r.digest(), r.Signature) != nil {
		return ErrBadSignature
	}
	return nil
}

// InitResponse is the device's SessionInitResponse. It carries the ticket
// and the host's half of the key exchange, and is signed by the device.
type InitResponse struct {
	SessionID     uuid.UUID
	RequestNonce  [NonceSize]byte
	Ticket        *ticket.Ticket
	HostEphemeral [identity.KeySize]byte
	Transports    []transport.Candidate // Host candidates for mutually supported kinds
	Signature     []byte
}

func (r *InitResponse) digest() [crypto.SHA256LenBytes]byte {
	t := crypto.NewTranscript(initResponseDomain).
		Append(1, r.SessionID[:]).
		Append(2, r.RequestNonce[:])
	if r.Ticket != nil {
		td := r.Ticket.Digest()
		t.Append(3, td[:]).Append(4, r.Ticket.Signature)
	}
	t.Append(5, r.HostEphemeral[:])
	appendCandidates(t, 6, r.Transports)
	return t.Finalize()
}

// Sign signs the response as the device.
func (r *InitResponse) Sign(device *identity.Identity) error {
	sig, err := device.SignDigest(r.digest())
	r.Signature = sig
	return err
}

// Verify checks the device signature.
func (r *InitResponse) Verify(deviceSignPub [identity.KeySize]byte) error {
	if identity.VerifyDigest(deviceSignPub, r.digest(), r.Signature) != nil {
		return ErrBadSignature
	}
	return nil
}

// RenewRequest asks for a fresh ticket for an active session.
type RenewRequest struct {
	SessionID uuid.UUID
	TicketID  uuid.UUID // Current ticket
	Nonce     [NonceSize]byte
	Timestamp time.Time
}

// RenewResponse carries the replacement ticket. The ticket keeps the
// session binding and is signed by the device.
type RenewResponse struct {
	SessionID uuid.UUID
	Ticket    *ticket.Ticket
}

// ResumeRequest reconnects an active session with its still-valid ticket
// and a fresh ephemeral key, skipping consent and ticket issuance.
type ResumeRequest struct {
	SessionID           uuid.UUID
	TicketID            uuid.UUID
	ControllerEphemeral [identity.KeySize]byte
	Nonce               [NonceSize]byte
	Timestamp           time.Time
	Transports          []transport.Candidate
	Signature           []byte
}

func (r *ResumeRequest) digest() [crypto.SHA256LenBytes]byte {
	t := crypto.NewTranscript(resumeRequestDomain).
		Append(1, r.SessionID[:]).
		Append(2, r.TicketID[:]).
		Append(3, r.ControllerEphemeral[:]).
		Append(4, r.Nonce[:]).
		AppendUint64(5, uint64(r.Timestamp.UnixMilli()))
	appendCandidates(t, 6, r.Transports)
	return t.Finalize()
}

// Sign signs the request as the operator.
func (r *ResumeRequest) Sign(operator *identity.Identity) error {
	r.Timestamp = r.Timestamp.Truncate(time.Millisecond)
	sig, err := operator.SignDigest(r.digest())
	r.Signature = sig
	return err
}

// Verify checks the operator signature.
func (r *ResumeRequest) Verify(operatorSignPub [identity.KeySize]byte) error {
	if identity.VerifyDigest(operatorSignPub, r.digest(), r.Signature) != nil {
		return ErrBadSignature
	}
	return nil
}

// ResumeResponse is the device's half of a resume.
type ResumeResponse struct {
	SessionID     uuid.UUID
	TicketID      uuid.UUID
	RequestNonce  [NonceSize]byte
	HostEphemeral [identity.KeySize]byte
	Transports    []transport.Candidate
	Signature     []byte
}

func (r *ResumeResponse) digest() [crypto.SHA256LenBytes]byte {
	t := crypto.NewTranscript(resumeResponseDomain).
		Append(1, r.SessionID[:]).
		Append(2, r.TicketID[:]).
		Append(3, r.RequestNonce[:]).
		Append(4, r.HostEphemeral[:])
	appendCandidates(t, 5, r.Transports)
	return t.Finalize()
}

// Sign signs the response as the device.
func (r *ResumeResponse) Sign(device *identity.Identity) error {
	sig, err := device.SignDigest(r.digest())
	r.Signature = sig
	return err
}

// Verify checks the device signature.
func (r *ResumeResponse) Verify(deviceSignPub [identity.KeySize]byte) error {
	if identity.VerifyDigest(deviceSignPub, r.digest(), r.Signature) != nil {
		return ErrBadSignature
	}
	return nil
}

// End terminates a session. Either side may send it.
type End struct {
	SessionID uuid.UUID
	Reason    string
}

func appendCandidates(t *crypto.Transcript, tag uint32, cs []transport.Candidate) {
	t.AppendUint32(tag, uint32(len(cs)))
	for _, c := range cs {
		t.Append(tag, c.Marshal())
	}
}
