package remote

import (
	"context"
)

// Read performs ReadOnce and blocks until it completes or ctx is done.
// The store's delivery loop must be running on another goroutine.
func Read(ctx context.Context, n Node) (Snapshot, error) {
	type result struct {
		snap Snapshot
		err  error
	}
	ch := make(chan result, 1)
	n.ReadOnce(
		func(s Snapshot) { ch <- result{snap: s} },
		func(err error) { ch <- result{err: err} },
	)
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case r := <-ch:
		return r.snap, r.err
	}
}

// Await runs op, which must call done exactly once, and blocks until done is
// called or ctx is done.
func Await(ctx context.Context, op func(done func(error))) error {
	ch := make(chan error, 1)
	op(func(err error) { ch <- err })
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		return err
	}
}
