// Package store provides SQLite-backed persistence for a remote tree.
//
// The tree is stored flattened: one row per leaf, keyed by its
// slash-separated path, plus one row per node priority. Objects are
// implied by their leaves, so an empty object is never stored. Leaf values
// and priorities are encoded with deterministic CBOR (RFC 8949 core
// deterministic encoding).
//
// Replacing a subtree deletes every row at or beneath its path and inserts
// the new leaves in one transaction.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
