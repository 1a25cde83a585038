package dispatch

import (
	"fmt"
	"sync/atomic"
)

// DropReason says why an envelope was not dispatched.
type DropReason uint8

const (
	DropMalformed DropReason = iota
	DropUnknownType
	DropNoHandler
	DropStale
	DropReplay
	DropWrongRecipient
	DropUnknownSender
	DropSignature
	DropDecrypt
	numDropReasons
)

// String returns the reason name.
func (r DropReason) String() string {
	switch r {
	case DropMalformed:
		return "malformed"
	case DropUnknownType:
		return "unknown_type"
	case DropNoHandler:
		return "no_handler"
	case DropStale:
		return "stale"
	case DropReplay:
		return "replay"
	case DropWrongRecipient:
		return "wrong_recipient"
	case DropUnknownSender:
		return "unknown_sender"
	case DropSignature:
		return "signature"
	case DropDecrypt:
		return "decrypt"
	default:
		return fmt.Sprintf("DropReason(%d)", uint8(r))
	}
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Received      uint64
	Dispatched    uint64
	Dropped       uint64
	HandlerErrors uint64
	Drops         map[DropReason]uint64 // Non-zero reasons only
}

type counters struct {
	received      atomic.Uint64
	dispatched    atomic.Uint64
	handlerErrors atomic.Uint64
	drops         [numDropReasons]atomic.Uint64
}

func (c *counters) drop(r DropReason) {
	c.drops[r].Add(1)
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Received:      c.received.Load(),
		Dispatched:    c.dispatched.Load(),
		HandlerErrors: c.handlerErrors.Load(),
		Drops:         make(map[DropReason]uint64),
	}
	for i := range c.drops {
		if n := c.drops[i].Load(); n > 0 {
			s.Drops[DropReason(i)] = n
			s.Dropped += n
		}
	}
	return s
}
