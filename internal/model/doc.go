// Package model holds local application state: Records (attribute maps
// with a stable id) and ordered Collections of records.
//
// Both emit events synchronously to registered listeners after their own
// state is updated. Every mutation carries an Origin so listeners can tell
// changes made by the application from changes applied on behalf of the
// remote store.
//
// Records and collections are safe for concurrent use, but listeners run on
// the mutating goroutine; the sync controllers expect all mutations to
// happen on the remote store's event loop.
package model
