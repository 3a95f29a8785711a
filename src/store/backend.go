package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/mosaicnetworks/mnregistry/src/common"
)

// Backend is a durable key-value store. Implementations must apply batches
// atomically: after a crash, either every write and delete of a batch is
// visible or none is.
type Backend interface {
	// Get retrieves a value. A missing key yields a KeyNotFound StoreErr.
	Get(key []byte) ([]byte, error)
	// Has reports whether a key is present.
	Has(key []byte) (bool, error)
	// ApplyBatch atomically applies a set of writes and deletes.
	ApplyBatch(writes map[string][]byte, deletes map[string]struct{}) error
	// Scan calls fn for every key with the given prefix, in ascending key
	// order.
	Scan(prefix []byte, fn func(key, value []byte) error) error
	// Close closes the underlying database.
	Close() error
}

// InmemBackend is a map-backed Backend for tests and for running without
// persistence.
type InmemBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewInmemBackend ...
func NewInmemBackend() *InmemBackend {
	return &InmemBackend{
		data: make(map[string][]byte),
	}
}

// Get implements Backend.
func (b *InmemBackend) Get(key []byte) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[string(key)]
	if !ok {
		return nil, common.NewStoreErr("Backend", common.KeyNotFound, string(key))
	}
	res := make([]byte, len(v))
	copy(res, v)
	return res, nil
}

// Has implements Backend.
func (b *InmemBackend) Has(key []byte) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.data[string(key)]
	return ok, nil
}

// ApplyBatch implements Backend.
func (b *InmemBackend) ApplyBatch(writes map[string][]byte, deletes map[string]struct{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range writes {
		val := make([]byte, len(v))
		copy(val, v)
		b.data[k] = val
	}
	for k := range deletes {
		delete(b.data, k)
	}
	return nil
}

// Scan implements Backend.
func (b *InmemBackend) Scan(prefix []byte, fn func(key, value []byte) error) error {
	b.mu.RLock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
		}
	}
	b.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		b.mu.RLock()
		v, ok := b.data[k]
		b.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Backend. There is nothing to close for an in-memory map.
func (b *InmemBackend) Close() error {
	return nil
}
