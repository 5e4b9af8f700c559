// Package badgerstore implements ledger.KV with BadgerDB transactions.
package badgerstore

import (
	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/vault/internal/storage/ledger"
)

// Store is a Badger-backed ledger.KV. A batch is committed in one read-write transaction.
type Store struct {
	db *badger.DB
}

// Open opens the database at path. An empty path opens an in-memory database.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ledger badger store")
	}
	return &Store{db: db}, nil
}

// Get returns the committed value for key.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s", key)
	}
	return value, true, nil
}

// Apply writes every put in a single transaction.
func (s *Store) Apply(batch ledger.Batch) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, p := range batch.Puts {
			if err := txn.Set([]byte(p.Key), p.Value); err != nil {
				return errors.Wrapf(err, "set %s", p.Key)
			}
		}
		return nil
	})
	return errors.Wrap(err, "apply ledger batch")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
