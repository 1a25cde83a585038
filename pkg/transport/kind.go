package transport

import "fmt"

// Kind is a class of transport.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindMesh is an overlay mesh network address.
	KindMesh
	// KindDirect is a LAN or public address reachable without help.
	KindDirect
	// KindRendezvous is hole punching via a rendezvous server.
	KindRendezvous
	// KindRelay is traffic forwarded by a relay server.
	KindRelay
)

// Ladder is the priority order, most preferred first.
var Ladder = []Kind{KindMesh, KindDirect, KindRendezvous, KindRelay}

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindMesh:
		return "mesh"
	case KindDirect:
		return "direct"
	case KindRendezvous:
		return "rendezvous"
	case KindRelay:
		return "relay"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// IsValid returns true if k is on the ladder.
func (k Kind) IsValid() bool {
	return k >= KindMesh && k <= KindRelay
}

// Priority returns the ladder position (0 is best), or len(Ladder) for
// unknown kinds.
func (k Kind) Priority() int {
	for i, l := range Ladder {
		if l == k {
			return i
		}
	}
	return len(Ladder)
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Ladder {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUnknown, ErrInvalidKind
}
