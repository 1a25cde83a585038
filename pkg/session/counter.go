package session

import (
	"math"
	"sync/atomic"
)

// SendCounter enforces strictly increasing sequence numbers on one
// outgoing channel. It is safe for concurrent use.
type SendCounter struct {
	last atomic.Uint64 // 0 means nothing sent yet
}

// Next reserves and returns the next sequence number, starting at 1.
func (c *SendCounter) Next() (uint64, error) {
	for {
		last := c.last.Load()
		if last == math.MaxUint64 {
			return 0, ErrCounterExhausted
		}
		if c.last.CompareAndSwap(last, last+1) {
			return last + 1, nil
		}
	}
}

// Advance claims an explicit sequence number. It fails unless seq is
// greater than every number already claimed.
func (c *SendCounter) Advance(seq uint64) error {
	for {
		last := c.last.Load()
		if seq <= last {
			return ErrSequenceNotMonotonic
		}
		if c.last.CompareAndSwap(last, seq) {
			return nil
		}
	}
}

// Last returns the most recently claimed sequence number.
func (c *SendCounter) Last() uint64 {
	return c.last.Load()
}
