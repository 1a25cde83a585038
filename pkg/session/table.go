package session

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultMaxSessions is the default maximum number of concurrent sessions.
const DefaultMaxSessions = 16

// Table tracks live session state machines by session id. S is *Host on
// a device and *Controller on an operator.
type Table[S any] struct {
	sessions    map[uuid.UUID]S
	maxSessions int

	mu sync.RWMutex
}

// NewTable creates a new session table.
// maxSessions limits the number of concurrent sessions (0 uses DefaultMaxSessions).
func NewTable[S any](maxSessions int) *Table[S] {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Table[S]{
		sessions:    make(map[uuid.UUID]S),
		maxSessions: maxSessions,
	}
}

// Add inserts s under id.
func (t *Table[S]) Add(id uuid.UUID, s S) error {
	if id == uuid.Nil {
		return ErrInvalidSessionID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) >= t.maxSessions {
		return ErrTableFull
	}
	if _, exists := t.sessions[id]; exists {
		return ErrDuplicateSession
	}
	t.sessions[id] = s
	return nil
}

// Get looks up a session.
func (t *Table[S]) Get(id uuid.UUID) (S, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Remove deletes a session. No error is returned if it doesn't exist.
func (t *Table[S]) Remove(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// Count returns the number of sessions.
func (t *Table[S]) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// IsFull returns true if no more sessions can be added.
func (t *Table[S]) IsFull() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions) >= t.maxSessions
}

// MaxSessions returns the maximum number of sessions allowed.
func (t *Table[S]) MaxSessions() int {
	return t.maxSessions
}

// Snapshot returns the current sessions. Callers may act on them without
// holding the table lock.
func (t *Table[S]) Snapshot() []S {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]S, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// RemoveIf removes every session for which fn returns true and returns
// the number removed. fn must not call back into the table.
func (t *Table[S]) RemoveIf(fn func(S) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for id, s := range t.sessions {
		if fn(s) {
			delete(t.sessions, id)
			count++
		}
	}
	return count
}
