// Package badgerseq implements the rowio.Sequence interface on BadgerDB,
// giving surrogate key counters that survive restarts. Each namespace is a
// single key updated inside a Badger transaction, so allocation is serialized
// and no two concurrent loaders of the same dimension can observe the same
// value.
package badgerseq

import (
	"encoding/binary"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

const keyPrefix = "seq/"

type SequenceStore struct {
	mu sync.Mutex
	db *badger.DB
}

// Options configures the sequence store.
type Options struct {
	// Path to the database directory. If empty, uses in-memory mode
	// (tests only; in-memory counters do not survive restarts).
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
}

func New(opts Options) (*SequenceStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger sequence store")
	}
	return &SequenceStore{db: db}, nil
}

// Next allocates the next value for namespace: read, increment, write in one
// transaction. The mutex serializes allocators within this process; the
// transaction guards against a second process on the same directory.
func (s *SequenceStore) Next(namespace string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := []byte(keyPrefix + namespace)
	var next int64
	err := s.db.Update(func(txn *badger.Txn) error {
		var current int64
		item, err := txn.Get(key)
		switch {
		case err == badger.ErrKeyNotFound:
			current = 0
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				current = int64(binary.BigEndian.Uint64(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		next = current + 1
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(next))
		return txn.Set(key, buf)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "allocate next value for sequence %v", namespace)
	}
	return next, nil
}

// Current returns the last allocated value for namespace without advancing it.
func (s *SequenceStore) Current(namespace string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + namespace))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			current = int64(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		return 0, errors.Wrapf(err, "read current value for sequence %v", namespace)
	}
	return current, nil
}

func (s *SequenceStore) Close() error {
	return s.db.Close()
}
