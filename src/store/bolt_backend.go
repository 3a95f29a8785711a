package store

import (
	"bytes"

	bolt "go.etcd.io/bbolt"

	"github.com/mosaicnetworks/mnregistry/src/common"
)

var boltBucket = []byte("registry")

// BoltBackend is an alternative durable Backend built on bbolt. It trades
// Badger's write throughput for a single-file database, which is convenient
// for tooling and embedded deployments.
type BoltBackend struct {
	db   *bolt.DB
	path string
}

// NewBoltBackend creates or opens a bbolt database at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	handle, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = handle.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		handle.Close()
		return nil, err
	}
	return &BoltBackend{
		db:   handle,
		path: path,
	}, nil
}

// Path returns the filepath of the underlying database.
func (b *BoltBackend) Path() string {
	return b.path
}

// Get implements Backend.
func (b *BoltBackend) Get(key []byte) ([]byte, error) {
	var res []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(key)
		if v == nil {
			return common.NewStoreErr("Bolt", common.KeyNotFound, string(key))
		}
		res = make([]byte, len(v))
		copy(res, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Has implements Backend.
func (b *BoltBackend) Has(key []byte) (bool, error) {
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(boltBucket).Get(key) != nil
		return nil
	})
	return found, err
}

// ApplyBatch implements Backend.
func (b *BoltBackend) ApplyBatch(writes map[string][]byte, deletes map[string]struct{}) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for k, v := range writes {
			if err := bucket.Put([]byte(k), v); err != nil {
				return err
			}
		}
		for k := range deletes {
			if err := bucket.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Scan implements Backend.
func (b *BoltBackend) Scan(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements Backend.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
