package session

import (
	"github.com/google/uuid"

	"github.com/backkem/trustlink/pkg/wire"
)

// ControlMsg is one encrypted message on a session channel, as carried by
// the transport link.
type ControlMsg struct {
	SessionID  uuid.UUID
	Channel    Channel
	Seq        uint64
	Ciphertext []byte
}

// SealMessage encrypts plaintext on ch with the next sequence number. The
// session id is bound as additional data.
func SealMessage(k *Keys, sessionID uuid.UUID, ch Channel, plaintext []byte) (*ControlMsg, error) {
	seq, ct, err := k.SealNext(ch, plaintext, sessionID[:])
	if err != nil {
		return nil, err
	}
	return &ControlMsg{SessionID: sessionID, Channel: ch, Seq: seq, Ciphertext: ct}, nil
}

// OpenMessage decrypts m and runs it through the replay filter.
func OpenMessage(k *Keys, sessionID uuid.UUID, m *ControlMsg) ([]byte, error) {
	if m.SessionID != sessionID {
		return nil, ErrSessionMismatch
	}
	return k.Open(m.Channel, m.Seq, m.Ciphertext, sessionID[:])
}

// Marshal encodes the message.
func (m *ControlMsg) Marshal() []byte {
	return wire.NewEncoder().
		Bytes(1, m.SessionID[:]).
		Uint64(2, uint64(m.Channel)).
		Uint64(3, m.Seq).
		Bytes(4, m.Ciphertext).
		Encode()
}

// UnmarshalControlMsg decodes a ControlMsg.
func UnmarshalControlMsg(b []byte) (*ControlMsg, error) {
	m := &ControlMsg{}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		switch num {
		case 1:
			return f.Array16((*[16]byte)(&m.SessionID))
		case 2:
			v, err := f.Uint64()
			if err != nil {
				return err
			}
			m.Channel = Channel(v)
			if !m.Channel.IsValid() || uint64(m.Channel) != v {
				return ErrInvalidChannel
			}
			return nil
		case 3:
			var err error
			m.Seq, err = f.Uint64()
			return err
		case 4:
			var err error
			m.Ciphertext, err = f.Bytes()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, ErrMalformed
	}
	return m, nil
}
