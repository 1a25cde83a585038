package node

import (
	"github.com/google/uuid"

	"github.com/backkem/trustlink/pkg/envelope"
	"github.com/backkem/trustlink/pkg/status"
	"github.com/backkem/trustlink/pkg/wire"
)

// ErrorNotice is the payload of an envelope.MsgError. It tells the peer
// which request failed and carries only the generic report.
type ErrorNotice struct {
	SessionID uuid.UUID        // Nil for pairing failures
	Ref       envelope.MsgType // Type of the failed request
	Report    status.Report
}

// Marshal encodes the notice.
func (n *ErrorNotice) Marshal() []byte {
	var sid []byte
	if n.SessionID != uuid.Nil {
		sid = n.SessionID[:]
	}
	return wire.NewEncoder().
		Bytes(1, sid).
		Uint64(2, uint64(n.Ref)).
		Bytes(3, n.Report.Encode()).
		Encode()
}

// UnmarshalErrorNotice decodes a notice.
func UnmarshalErrorNotice(b []byte) (*ErrorNotice, error) {
	n := &ErrorNotice{}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		switch num {
		case 1:
			return f.Array16((*[16]byte)(&n.SessionID))
		case 2:
			v, err := f.Uint16()
			n.Ref = envelope.MsgType(v)
			return err
		case 3:
			raw, err := f.Bytes()
			if err != nil {
				return err
			}
			n.Report, err = status.DecodeReport(raw)
			return err
		}
		return nil
	})
	if err != nil || n.Report.Code == status.CodeOK {
		return nil, ErrMalformed
	}
	return n, nil
}

func noticeFor(sessionID uuid.UUID, ref envelope.MsgType, err error) *ErrorNotice {
	return &ErrorNotice{SessionID: sessionID, Ref: ref, Report: status.ToReport(err)}
}
