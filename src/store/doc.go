// Package store implements the transactional key-value store that gives
// on-chain state machines atomic commit/rollback semantics across block
// connection and disconnection.
//
// A TransactionalStore layers two in-memory transactions over a durable
// Backend. The outer (root) transaction buffers everything that has not yet
// been flushed to disk; the inner transaction scopes one unit of speculative
// work, typically one block's worth of writes. A ScopedCommitter guarantees
// that exactly one of Commit or Rollback fires for every inner scope, so a
// failed block connection can never leave half-applied writes behind.
//
// Three backends are provided: Badger (default), Bolt and an in-memory map
// for tests.
package store
