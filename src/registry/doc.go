// Package registry implements the deterministic node-registry state machine.
//
// The registry is a chain-height-indexed list of network participants
// (masternodes) whose entries are created, updated and retired exclusively by
// validated block contents. Every node that replays the same chain computes
// bit-identical registry state, which makes the registry usable for
// consensus-critical decisions: quorum selection and payee ordering.
//
// A List is the full registry state at one height. Lists are immutable once
// published and structurally shared, so producing the next height's list
// costs O(log n) in the number of changed entries. A ListDiff is the compact
// delta between two consecutive lists; it is what gets persisted and
// exchanged. The Manager orchestrates forward application on block
// connection, inverse application on disconnection, periodic full snapshots,
// and a bounded in-memory window of recent diffs.
package registry
