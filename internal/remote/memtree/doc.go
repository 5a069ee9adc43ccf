// Package memtree implements remote.Node over an in-process hierarchical
// store.
//
// Semantics follow the realtime tree stores the sync engine targets:
//   - Writing nil deletes a node; objects left empty vanish.
//   - Patch merges the named keys (which may be deep relative paths) and
//     never touches siblings.
//   - ".priority" inside a written object sets that node's priority.
//     Children iterate ordered by priority, then key.
//   - Value and child notifications are computed by comparing the tree
//     before and after each mutation.
//
// EVENT LOOP:
//
// Every callback (notifications, write completions, reads, posted work) is
// queued on one FIFO and delivered by a single goroutine calling Run, or by
// the caller of Drain in tests. Callbacks never run inside the call that
// caused them, and two callbacks never run concurrently. Callers that
// mutate local state from other goroutines should Post that work onto the
// loop.
//
// Persistence is optional: WithPersister writes every committed mutation
// through before it becomes visible (see internal/store).
package memtree
