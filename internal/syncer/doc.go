// Package syncer binds local records and collections to remote nodes and
// keeps them in step in both directions.
//
// A RecordController mirrors one record against one node; a
// CollectionController mirrors an ordered collection against a node's
// children. Each controller is bound at construction to a Mode:
//
//   - ModeContinuous subscribes to remote notifications and pushes local
//     changes as they happen. The first remote value resolves the
//     controller's Session.
//   - ModeOnce never subscribes. Fetch, Save and Destroy each perform one
//     explicit remote operation.
//
// ECHO SUPPRESSION:
//
// Every local mutation carries a model.Origin. Mutations applied from
// remote data are tagged OriginRemote and never written back. The
// EchoGuard additionally marks records whose mutation is being driven by
// the controller itself, and counts the remote child events a bulk reset
// is expected to cause so that they are consumed instead of re-applied.
//
// THREADING:
//
// Controllers hold no locks of their own around remote callbacks. They
// rely on the store delivering every callback on one event loop (see
// remote.Scheduler) and on local mutations being made on that same loop.
package syncer
