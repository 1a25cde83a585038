package store

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/pion/logging"
)

// maxConflictRetries bounds Update retries on badger.ErrConflict.
const maxConflictRetries = 32

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in memory (tests).
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// BadgerStore is a Store backed by a Badger database. Keys are laid out
// as bucket ‖ 0x00 ‖ key so each bucket is a contiguous prefix.
type BadgerStore struct {
	db  *badger.DB
	log logging.LeveledLogger
}

// OpenBadger opens (or creates) a Badger-backed store.
func OpenBadger(config BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(config.Dir)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = config.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &BadgerStore{db: db}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("store")
		s.log.Debugf("opened badger store dir=%q inMemory=%v", config.Dir, config.InMemory)
	}
	return s, nil
}

func badgerKey(bucket Bucket, key []byte) []byte {
	k := make([]byte, 0, len(bucket)+1+len(key))
	k = append(k, bucket...)
	k = append(k, 0)
	return append(k, key...)
}

func bucketPrefix(bucket Bucket) []byte {
	return append([]byte(bucket), 0)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	case errors.Is(err, badger.ErrDBClosed):
		return ErrClosed
	default:
		return err
	}
}

// Put upserts a value.
func (s *BadgerStore) Put(ctx context.Context, bucket Bucket, key, value []byte) error {
	if err := checkKey(bucket, key); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(bucket, key), clone(value))
	})
	return mapErr(err)
}

// Get returns the value or ErrNotFound.
func (s *BadgerStore) Get(ctx context.Context, bucket Bucket, key []byte) ([]byte, error) {
	if err := checkKey(bucket, key); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(bucket, key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

// List returns every entry in the bucket, ordered by key.
func (s *BadgerStore) List(ctx context.Context, bucket Bucket) ([]Entry, error) {
	prefix := bucketPrefix(bucket)
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			k := item.KeyCopy(nil)
			out = append(out, Entry{Key: k[len(prefix):], Value: v})
		}
		return nil
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

// Delete removes a key.
func (s *BadgerStore) Delete(ctx context.Context, bucket Bucket, key []byte) error {
	if err := checkKey(bucket, key); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(bucket, key))
	})
	return mapErr(err)
}

// Update atomically reads, transforms and writes one key. Badger's
// optimistic transactions may conflict with a concurrent writer; the
// update is retried a bounded number of times.
func (s *BadgerStore) Update(ctx context.Context, bucket Bucket, key []byte, fn UpdateFunc) error {
	if err := checkKey(bucket, key); err != nil {
		return err
	}
	k := badgerKey(bucket, key)

	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			var cur []byte
			item, err := txn.Get(k)
			switch {
			case err == nil:
				if cur, err = item.ValueCopy(nil); err != nil {
					return err
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}

			next, err := fn(cur)
			if err != nil {
				return err
			}
			if next == nil {
				return txn.Delete(k)
			}
			return txn.Set(k, clone(next))
		})
		if !errors.Is(err, badger.ErrConflict) {
			return mapErr(err)
		}
		if s.log != nil {
			s.log.Debugf("update conflict on %s, retrying", bucket)
		}
	}
	return mapErr(err)
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
