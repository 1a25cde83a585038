package transport

import (
	"github.com/backkem/trustlink/pkg/wire"
)

// Candidate is one way to reach a peer.
type Candidate struct {
	Kind    Kind
	Address string // host:port, mesh address, or server URL
	Token   []byte // Opaque credential for rendezvous/relay servers
}

// Marshal encodes the candidate.
func (c Candidate) Marshal() []byte {
	return wire.NewEncoder().
		Uint64(1, uint64(c.Kind)).
		String(2, c.Address).
		Bytes(3, c.Token).
		Encode()
}

// UnmarshalCandidate decodes a candidate.
func UnmarshalCandidate(b []byte) (Candidate, error) {
	var c Candidate
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		var err error
		switch num {
		case 1:
			var v uint8
			v, err = f.Uint8()
			c.Kind = Kind(v)
		case 2:
			c.Address, err = f.String()
		case 3:
			c.Token, err = f.Bytes()
		}
		return err
	})
	return c, err
}

// MarshalCandidates encodes a list for embedding as a repeated field.
func MarshalCandidates(cs []Candidate) [][]byte {
	out := make([][]byte, len(cs))
	for i, c := range cs {
		out[i] = c.Marshal()
	}
	return out
}
