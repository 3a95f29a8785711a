package store

import (
	"github.com/dgraph-io/badger"

	"github.com/mosaicnetworks/mnregistry/src/common"
)

// BadgerBackend is the default durable Backend, built on BadgerDB.
type BadgerBackend struct {
	db   *badger.DB
	path string
}

// NewBadgerBackend creates or opens a Badger database at path.
func NewBadgerBackend(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerBackend{
		db:   handle,
		path: path,
	}, nil
}

// Path returns the filepath of the underlying database.
func (b *BadgerBackend) Path() string {
	return b.path
}

// Get implements Backend.
func (b *BadgerBackend) Get(key []byte) ([]byte, error) {
	var res []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		res, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, common.NewStoreErr("Badger", common.KeyNotFound, string(key))
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Has implements Backend.
func (b *BadgerBackend) Has(key []byte) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ApplyBatch implements Backend.
func (b *BadgerBackend) ApplyBatch(writes map[string][]byte, deletes map[string]struct{}) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for k, v := range writes {
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
		for k := range deletes {
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Scan implements Backend.
func (b *BadgerBackend) Scan(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements Backend.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
