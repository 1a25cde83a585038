package dispatch

import (
	"sync"
	"time"

	"github.com/backkem/trustlink/pkg/clock"
	"github.com/backkem/trustlink/pkg/envelope"
	"github.com/backkem/trustlink/pkg/identity"
)

type nonceKey struct {
	sender identity.ID
	nonce  [envelope.NonceSize]byte
}

// nonceCache remembers envelope nonces per sender for ttl. Expired entries
// are evicted inline on record.
type nonceCache struct {
	mu      sync.Mutex
	entries map[nonceKey]time.Time
	ttl     time.Duration
	clock   clock.Clock
}

func newNonceCache(ttl time.Duration, c clock.Clock) *nonceCache {
	return &nonceCache{
		entries: make(map[nonceKey]time.Time),
		ttl:     ttl,
		clock:   c,
	}
}

// seen reports whether k is currently recorded.
func (nc *nonceCache) seen(k nonceKey) bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	at, ok := nc.entries[k]
	return ok && nc.clock.Now().Sub(at) <= nc.ttl
}

// record adds k and reports whether it was fresh. A zero nonce is never
// fresh.
func (nc *nonceCache) record(k nonceKey) bool {
	if k.nonce == [envelope.NonceSize]byte{} {
		return false
	}
	nc.mu.Lock()
	defer nc.mu.Unlock()

	now := nc.clock.Now()
	cutoff := now.Add(-nc.ttl)
	for key, at := range nc.entries {
		if at.Before(cutoff) {
			delete(nc.entries, key)
		}
	}
	if _, exists := nc.entries[k]; exists {
		return false
	}
	nc.entries[k] = now
	return true
}

func (nc *nonceCache) len() int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return len(nc.entries)
}
