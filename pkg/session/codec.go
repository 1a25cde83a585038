package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/ticket"
	"github.com/backkem/trustlink/pkg/transport"
	"github.com/backkem/trustlink/pkg/wire"
)

// Marshal encodes the request.
func (r *InitRequest) Marshal() []byte {
	return wire.NewEncoder().
		Bytes(1, r.SessionID[:]).
		Bytes(2, r.OperatorID[:]).
		Bytes(3, r.DeviceID[:]).
		Uint64(4, uint64(r.Permissions)).
		Bytes(5, r.ControllerEphemeral[:]).
		Bytes(6, r.Nonce[:]).
		Int64(7, r.Timestamp.UnixMilli()).
		RepeatedBytes(8, transport.MarshalCandidates(r.Transports)).
		Bytes(9, r.Signature).
		Encode()
}

// UnmarshalInitRequest decodes an InitRequest.
func UnmarshalInitRequest(b []byte) (*InitRequest, error) {
	r := &InitRequest{Timestamp: time.UnixMilli(0)}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		switch num {
		case 1:
			return f.Array16((*[16]byte)(&r.SessionID))
		case 2:
			return f.Array32((*[32]byte)(&r.OperatorID))
		case 3:
			return f.Array32((*[32]byte)(&r.DeviceID))
		case 4:
			v, err := f.Uint32()
			r.Permissions = acl.Permission(v)
			return err
		case 5:
			return f.Array32(&r.ControllerEphemeral)
		case 6:
			return f.Array16(&r.Nonce)
		case 7:
			ms, err := f.Int64()
			r.Timestamp = time.UnixMilli(ms)
			return err
		case 8:
			return appendCandidate(&r.Transports, f)
		case 9:
			var err error
			r.Signature, err = f.Bytes()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, ErrMalformed
	}
	return r, nil
}

// Marshal encodes the response.
func (r *InitResponse) Marshal() []byte {
	e := wire.NewEncoder().
		Bytes(1, r.SessionID[:]).
		Bytes(2, r.RequestNonce[:])
	if r.Ticket != nil {
		e.Bytes(3, r.Ticket.Marshal())
	}
	return e.
		Bytes(4, r.HostEphemeral[:]).
		RepeatedBytes(5, transport.MarshalCandidates(r.Transports)).
		Bytes(6, r.Signature).
		Encode()
}

// UnmarshalInitResponse decodes an InitResponse.
func UnmarshalInitResponse(b []byte) (*InitResponse, error) {
	r := &InitResponse{}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		switch num {
		case 1:
			return f.Array16((*[16]byte)(&r.SessionID))
		case 2:
			return f.Array16(&r.RequestNonce)
		case 3:
			return decodeTicket(&r.Ticket, f)
		case 4:
			return f.Array32(&r.HostEphemeral)
		case 5:
			return appendCandidate(&r.Transports, f)
		case 6:
			var err error
			r.Signature, err = f.Bytes()
			return err
		}
		return nil
	})
	if err != nil || r.Ticket == nil {
		return nil, ErrMalformed
	}
	return r, nil
}

// Marshal encodes the request.
func (r *RenewRequest) Marshal() []byte {
	return wire.NewEncoder().
		Bytes(1, r.SessionID[:]).
		Bytes(2, r.TicketID[:]).
		Bytes(3, r.Nonce[:]).
		Int64(4, r.Timestamp.UnixMilli()).
		Encode()
}

// UnmarshalRenewRequest decodes a RenewRequest.
func UnmarshalRenewRequest(b []byte) (*RenewRequest, error) {
	r := &RenewRequest{Timestamp: time.UnixMilli(0)}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		switch num {
		case 1:
			return f.Array16((*[16]byte)(&r.SessionID))
		case 2:
			return f.Array16((*[16]byte)(&r.TicketID))
		case 3:
			return f.Array16(&r.Nonce)
		case 4:
			ms, err := f.Int64()
			r.Timestamp = time.UnixMilli(ms)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, ErrMalformed
	}
	return r, nil
}

// Marshal encodes the response.
func (r *RenewResponse) Marshal() []byte {
	e := wire.NewEncoder().Bytes(1, r.SessionID[:])
	if r.Ticket != nil {
		e.Bytes(2, r.Ticket.Marshal())
	}
	return e.Encode()
}

// UnmarshalRenewResponse decodes a RenewResponse.
func UnmarshalRenewResponse(b []byte) (*RenewResponse, error) {
	r := &RenewResponse{}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		switch num {
		case 1:
			return f.Array16((*[16]byte)(&r.SessionID))
		case 2:
			return decodeTicket(&r.Ticket, f)
		}
		return nil
	})
	if err != nil || r.Ticket == nil {
		return nil, ErrMalformed
	}
	return r, nil
}

// Marshal encodes the request.
func (r *ResumeRequest) Marshal() []byte {
	return wire.NewEncoder().
		Bytes(1, r.SessionID[:]).
		Bytes(2, r.TicketID[:]).
		Bytes(3, r.ControllerEphemeral[:]).
		Bytes(4, r.Nonce[:]).
		Int64(5, r.Timestamp.UnixMilli()).
		RepeatedBytes(6, transport.MarshalCandidates(r.Transports)).
		Bytes(7, r.Signature).
		Encode()
}

// UnmarshalResumeRequest decodes a ResumeRequest.
func UnmarshalResumeRequest(b []byte) (*ResumeRequest, error) {
	r := &ResumeRequest{Timestamp: time.UnixMilli(0)}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		switch num {
		case 1:
			return f.Array16((*[16]byte)(&r.SessionID))
		case 2:
			return f.Array16((*[16]byte)(&r.TicketID))
		case 3:
			return f.Array32(&r.ControllerEphemeral)
		case 4:
			return f.Array16(&r.Nonce)
		case 5:
			ms, err := f.Int64()
			r.Timestamp = time.UnixMilli(ms)
			return err
		case 6:
			return appendCandidate(&r.Transports, f)
		case 7:
			var err error
			r.Signature, err = f.Bytes()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, ErrMalformed
	}
	return r, nil
}

// Marshal encodes the response.
func (r *ResumeResponse) Marshal() []byte {
	return wire.NewEncoder().
		Bytes(1, r.SessionID[:]).
		Bytes(2, r.TicketID[:]).
		Bytes(3, r.RequestNonce[:]).
		Bytes(4, r.HostEphemeral[:]).
		RepeatedBytes(5, transport.MarshalCandidates(r.Transports)).
		Bytes(6, r.Signature).
		Encode()
}

// UnmarshalResumeResponse decodes a ResumeResponse.
func UnmarshalResumeResponse(b []byte) (*ResumeResponse, error) {
	r := &ResumeResponse{}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		switch num {
		case 1:
			return f.Array16((*[16]byte)(&r.SessionID))
		case 2:
			return f.Array16((*[16]byte)(&r.TicketID))
		case 3:
			return f.Array16(&r.RequestNonce)
		case 4:
			return f.Array32(&r.HostEphemeral)
		case 5:
			return appendCandidate(&r.Transports, f)
		case 6:
			var err error
			r.Signature, err = f.Bytes()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, ErrMalformed
	}
	return r, nil
}

// Marshal encodes the end notice.
func (e *End) Marshal() []byte {
	return wire.NewEncoder().
		Bytes(1, e.SessionID[:]).
		String(2, e.Reason).
		Encode()
}

// UnmarshalEnd decodes an End.
func UnmarshalEnd(b []byte) (*End, error) {
	e := &End{}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		switch num {
		case 1:
			return f.Array16((*[16]byte)(&e.SessionID))
		case 2:
			var err error
			e.Reason, err = f.String()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, ErrMalformed
	}
	return e, nil
}

// PeekSessionID returns field 1 of any session message. Every session
// message carries its session id there, which lets a table route a message
// before the full decode.
func PeekSessionID(b []byte) (uuid.UUID, error) {
	var id uuid.UUID
	found := false
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		if num != 1 || found {
			return nil
		}
		found = true
		return f.Array16((*[16]byte)(&id))
	})
	if err != nil || !found {
		return uuid.Nil, ErrMalformed
	}
	return id, nil
}

func appendCandidate(dst *[]transport.Candidate, f wire.Field) error {
	b, err := f.Bytes()
	if err != nil {
		return err
	}
	c, err := transport.UnmarshalCandidate(b)
	if err != nil {
		return err
	}
	*dst = append(*dst, c)
	return nil
}

func decodeTicket(dst **ticket.Ticket, f wire.Field) error {
	b, err := f.Bytes()
	if err != nil {
		return err
	}
	t, err := ticket.Unmarshal(b)
	if err != nil {
		return err
	}
	*dst = t
	return nil
}
