package store

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/mosaicnetworks/mnregistry/src/chain"
	"github.com/mosaicnetworks/mnregistry/src/common"
)

// Best-block marker keys. The short key was used before compact diffs were
// introduced; it is still recognized on read so that old databases are
// detected, but only the current key is ever written.
var (
	keyBestBlock       = []byte("b_b2")
	keyBestBlockLegacy = []byte("b_b")
)

// TransactionalStore wraps a Backend with a two-level nested transaction.
// The root transaction accumulates committed-but-not-flushed state; the
// current transaction scopes one block's worth of speculative writes. The
// mutex guards the transaction cursor itself, not the data: critical
// sections are single read/write calls.
type TransactionalStore struct {
	mu      sync.Mutex
	backend Backend
	root    *transaction
	cur     *transaction
}

// New creates a TransactionalStore over the given backend.
func New(backend Backend) *TransactionalStore {
	root := newTransaction(backendLayer{backend})
	return &TransactionalStore{
		backend: backend,
		root:    root,
		cur:     newTransaction(root),
	}
}

// Backend returns the underlying durable backend.
func (s *TransactionalStore) Backend() Backend {
	return s.backend
}

// ScopedCommitter pairs a Begin call with the guarantee that exactly one of
// Commit or Rollback fires. Callers are expected to defer Done immediately:
//
//	scope := store.Begin()
//	defer scope.Done()
//	...
//	scope.Commit()
//
// If neither Commit nor Rollback was called by the time Done runs, for
// example because of an early error return, the scope is rolled back.
type ScopedCommitter struct {
	s    *TransactionalStore
	done bool
}

// Begin opens a new inner transaction scope.
func (s *TransactionalStore) Begin() *ScopedCommitter {
	return &ScopedCommitter{s: s}
}

// Commit folds the inner transaction into the root transaction.
func (c *ScopedCommitter) Commit() {
	if c.done {
		return
	}
	c.done = true
	c.s.commitCur()
}

// Rollback discards the inner transaction.
func (c *ScopedCommitter) Rollback() {
	if c.done {
		return
	}
	c.done = true
	c.s.rollbackCur()
}

// Done rolls the scope back unless Commit or Rollback already fired. It is
// idempotent and meant to be deferred.
func (c *ScopedCommitter) Done() {
	c.Rollback()
}

func (s *TransactionalStore) commitCur() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.mergeInto(s.root)
	s.cur.clear()
}

func (s *TransactionalStore) rollbackCur() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.clear()
}

// Read retrieves a value through the innermost active transaction.
func (s *TransactionalStore) Read(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.read(key)
}

// Write buffers a write in the innermost active transaction.
func (s *TransactionalStore) Write(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.write(key, value)
}

// Exists reports whether a key is visible to the innermost transaction.
func (s *TransactionalStore) Exists(key []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.exists(key)
}

// Erase buffers a delete in the innermost active transaction.
func (s *TransactionalStore) Erase(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.erase(key)
}

// CommitRoot flushes the root transaction to the durable backend. This is
// the only operation that survives a process restart.
func (s *TransactionalStore) CommitRoot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.ApplyBatch(s.root.writes, s.root.deletes); err != nil {
		return err
	}
	s.root.clear()
	return nil
}

// IsEmpty reports whether the durable backend holds no keys at all.
func (s *TransactionalStore) IsEmpty() (bool, error) {
	empty := true
	err := s.backend.Scan(nil, func(k, v []byte) error {
		empty = false
		return errStopScan
	})
	if err != nil && err != errStopScan {
		return false, err
	}
	return empty, nil
}

var errStopScan = fmt.Errorf("stop scan")

// WriteBestBlock records the best-block marker in the current transaction.
// It is written as part of every block connection so that an unclean
// shutdown is detectable on startup.
func (s *TransactionalStore) WriteBestBlock(hash chain.Hash) {
	s.Write(keyBestBlock, hash[:])
}

// ReadBestBlock returns the recorded best-block marker. The legacy return
// value is true when only the pre-compact-diff marker key was found, which
// means the stored diffs are in the legacy format.
func (s *TransactionalStore) ReadBestBlock() (hash chain.Hash, legacy bool, err error) {
	v, err := s.Read(keyBestBlock)
	if err == nil {
		if len(v) != chain.HashLen {
			return hash, false, common.NewStoreErr("BestBlock", common.Corrupted, string(keyBestBlock))
		}
		return chain.NewHash(v), false, nil
	}
	if !common.IsStore(err, common.KeyNotFound) {
		return hash, false, err
	}
	v, err = s.Read(keyBestBlockLegacy)
	if err != nil {
		return hash, false, err
	}
	if len(v) != chain.HashLen {
		return hash, true, common.NewStoreErr("BestBlock", common.Corrupted, string(keyBestBlockLegacy))
	}
	return chain.NewHash(v), true, nil
}

// VerifyBestBlock checks the recorded best-block marker against the hash the
// chain reports as its tip.
func (s *TransactionalStore) VerifyBestBlock(hash chain.Hash) (bool, error) {
	stored, _, err := s.ReadBestBlock()
	if err != nil {
		if common.IsStore(err, common.KeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(stored[:], hash[:]), nil
}
