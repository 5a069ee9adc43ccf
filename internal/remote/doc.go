// Package remote defines the contract this module consumes from an
// authoritative hierarchical key-value store that pushes change
// notifications.
//
// A Node addresses one path in the remote tree. Writes are non-blocking and
// report completion through a callback; subscriptions deliver Snapshots in
// the order the store emits them. The package holds no reconciliation logic:
// see internal/reconcile and internal/syncer for that.
//
// Implementations that deliver callbacks on a single event loop also
// implement Scheduler, which lets callers post work onto that loop. The
// in-process reference store lives in internal/remote/memtree.
package remote
