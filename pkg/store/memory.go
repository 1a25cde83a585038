package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store. Data is lost when the process exits.
//
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[Bucket]map[string][]byte
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[Bucket]map[string][]byte),
	}
}

// Put upserts a value.
func (m *MemoryStore) Put(ctx context.Context, bucket Bucket, key, value []byte) error {
	if err := checkKey(bucket, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.bucket(bucket)[string(key)] = clone(value)
	return nil
}

// Get returns the value or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, bucket Bucket, key []byte) ([]byte, error) {
	if err := checkKey(bucket, key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.buckets[bucket][string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

// List returns every entry in the bucket, ordered by key.
func (m *MemoryStore) List(ctx context.Context, bucket Bucket) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	b := m.buckets[bucket]
	out := make([]Entry, 0, len(b))
	for k, v := range b {
		out = append(out, Entry{Key: []byte(k), Value: clone(v)})
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Key) < string(out[j].Key)
	})
	return out, nil
}

// Delete removes a key.
func (m *MemoryStore) Delete(ctx context.Context, bucket Bucket, key []byte) error {
	if err := checkKey(bucket, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.buckets[bucket], string(key))
	return nil
}

// Update atomically reads, transforms and writes one key.
func (m *MemoryStore) Update(ctx context.Context, bucket Bucket, key []byte, fn UpdateFunc) error {
	if err := checkKey(bucket, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	b := m.bucket(bucket)
	cur, ok := b[string(key)]
	var in []byte
	if ok {
		in = clone(cur)
	}
	next, err := fn(in)
	if err != nil {
		return err
	}
	if next == nil {
		delete(b, string(key))
		return nil
	}
	b[string(key)] = clone(next)
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// bucket returns the bucket map, creating it. Must be called with mu held.
func (m *MemoryStore) bucket(name Bucket) map[string][]byte {
	b, ok := m.buckets[name]
	if !ok {
		b = make(map[string][]byte)
		m.buckets[name] = b
	}
	return b
}

var _ Store = (*MemoryStore)(nil)
