package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps values in an embedded badger database
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a badger database at path. An empty path opens an
// in-memory database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open failed: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Get decodes the value stored at key
func (s *BadgerStore) Get(ctx context.Context, key Key, out any) error {
	if err := key.Validate(); err != nil {
		return err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key.String()))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("badger: get %s: %w", key, err)
	}
	return decode(key, data, out)
}

// Set stores value at key
func (s *BadgerStore) Set(ctx context.Context, key Key, value any) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key.String()), data)
	})
	if err != nil {
		return fmt.Errorf("badger: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (s *BadgerStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key.String()))
	})
	if err != nil {
		return fmt.Errorf("badger: delete %s: %w", key, err)
	}
	return nil
}

// Close closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
