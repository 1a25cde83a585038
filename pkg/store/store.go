package store

import "context"

// Bucket namespaces keys.
type Bucket string

// Buckets used by Records.
const (
	BucketInvites  Bucket = "invites"
	BucketPairings Bucket = "pairings"
	BucketTickets  Bucket = "tickets"
	BucketRevoked  Bucket = "revoked"
)

// Entry is one key/value pair returned by List.
type Entry struct {
	Key   []byte
	Value []byte
}

// UpdateFunc receives the current value (nil if absent) and returns the
// value to store. Returning a nil value deletes the key. Returning an error
// aborts the update and leaves the key unchanged.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is a bucketed key/value store.
//
// All methods must be safe for concurrent use. Values passed in and
// returned are never aliased with the store's internal state.
type Store interface {
	// Put upserts a value.
	Put(ctx context.Context, bucket Bucket, key, value []byte) error

	// Get returns the value or ErrNotFound.
	Get(ctx context.Context, bucket Bucket, key []byte) ([]byte, error)

	// List returns every entry in the bucket, ordered by key.
	List(ctx context.Context, bucket Bucket) ([]Entry, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, bucket Bucket, key []byte) error

	// Update atomically reads, transforms and writes one key.
	Update(ctx context.Context, bucket Bucket, key []byte, fn UpdateFunc) error

	// Close releases resources.
	Close() error
}

func checkKey(bucket Bucket, key []byte) error {
	if bucket == "" || len(key) == 0 {
		return ErrInvalidKey
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
