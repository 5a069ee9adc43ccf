package memtree

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/remote"
)

func newTree(t *testing.T, opts ...Option) *Tree {
	t.Helper()
	tree, err := New(opts...)
	require.NoError(t, err)
	return tree
}

func TestTree_WriteThenRead(t *testing.T) {
	tree := newTree(t)
	n := tree.Root().Child("items/a")

	var writeErr error
	written := false
	n.Write(map[string]any{"name": "x", "n": 1}, func(err error) {
		written = true
		writeErr = err
	})
	assert.False(t, written, "completion must not run inside Write")

	var got remote.Snapshot
	n.ReadOnce(func(s remote.Snapshot) { got = s }, nil)
	tree.Drain()

	require.True(t, written)
	require.NoError(t, writeErr)
	assert.True(t, got.Exists())
	assert.Equal(t, "a", got.Key())
	assert.Equal(t, map[string]any{"name": "x", "n": int64(1)}, got.Value())
}

func TestTree_WriteNilDeletesAndPrunes(t *testing.T) {
	tree := newTree(t, WithData(map[string]any{"items": map[string]any{"a": map[string]any{"v": 1}}}))

	tree.Root().Child("items/a").Write(nil, nil)
	tree.Drain()

	assert.Nil(t, tree.Value("items/a"))
	assert.Nil(t, tree.Value("items"), "empty parent should vanish")
}

func TestTree_PatchMergesWithoutTouchingSiblings(t *testing.T) {
	tree := newTree(t, WithData(map[string]any{"r": map[string]any{"a": 1, "b": 2}}))

	tree.Root().Child("r").Patch(map[string]any{"b": nil, "c": 3}, nil)
	tree.Drain()

	assert.Equal(t, map[string]any{"a": int64(1), "c": int64(3)}, tree.Value("r"))
}

func TestTree_PatchDeepKeys(t *testing.T) {
	tree := newTree(t, WithData(map[string]any{"r": map[string]any{"nested": map[string]any{"x": 1, "y": 2}}}))

	tree.Root().Child("r").Patch(map[string]any{"nested/x": 10}, nil)
	tree.Drain()

	assert.Equal(t, map[string]any{"x": int64(10), "y": int64(2)}, tree.Value("r/nested"))
}

func TestTree_PatchRejectsPriorityKey(t *testing.T) {
	tree := newTree(t)

	var got error
	tree.Root().Child("r").Patch(map[string]any{".priority": 1}, func(err error) { got = err })
	tree.Drain()

	assert.ErrorIs(t, got, remote.ErrInvalidValue)
}

func TestTree_PatchRejectsOverlappingPaths(t *testing.T) {
	tree := newTree(t)

	var got error
	tree.Root().Patch(map[string]any{"a": 1, "a/b": 2}, func(err error) { got = err })
	tree.Drain()

	assert.ErrorIs(t, got, remote.ErrInvalidPath)
}

func TestTree_WriteRejectsInvalidKeys(t *testing.T) {
	tree := newTree(t)

	var got error
	tree.Root().Child("r").Write(map[string]any{"bad.key": 1}, func(err error) { got = err })
	tree.Drain()

	assert.ErrorIs(t, got, remote.ErrInvalidValue)
	assert.Nil(t, tree.Value("r"))
}

func TestTree_EmbeddedPriority(t *testing.T) {
	tree := newTree(t)
	list := tree.Root().Child("list")

	list.Child("a").Write(map[string]any{"v": 1, ".priority": 2}, nil)
	list.Child("b").Write(map[string]any{"v": 2, ".priority": 1}, nil)

	var got remote.Snapshot
	list.ReadOnce(func(s remote.Snapshot) { got = s }, nil)
	tree.Drain()

	assert.Equal(t, []string{"b", "a"}, got.Keys())
	assert.Equal(t, int64(1), got.Child("b").Priority())
	assert.Equal(t, map[string]any{"v": int64(1)}, got.Child("a").Value(), "priority is not part of the value")
}

func TestTree_WriteWithPriority(t *testing.T) {
	tree := newTree(t)
	n := tree.Root().Child("list/x")

	n.WriteWithPriority(map[string]any{"v": 1}, "m", nil)

	var got remote.Snapshot
	n.ReadOnce(func(s remote.Snapshot) { got = s }, nil)
	tree.Drain()

	assert.Equal(t, "m", got.Priority())
}

func TestTree_WriteWithPriorityRejectsBadPriority(t *testing.T) {
	tree := newTree(t)

	var got error
	tree.Root().Child("x").WriteWithPriority(1, true, func(err error) { got = err })
	tree.Drain()

	assert.ErrorIs(t, got, remote.ErrInvalidValue)
}

func TestTree_ChildOrdering(t *testing.T) {
	tree := newTree(t, WithData(map[string]any{
		"l": map[string]any{
			"b":  map[string]any{"v": 1},
			"10": map[string]any{"v": 1},
			"2":  map[string]any{"v": 1},
			"s":  map[string]any{"v": 1, ".priority": "a"},
			"n":  map[string]any{"v": 1, ".priority": 5},
		},
	}))

	var got remote.Snapshot
	tree.Root().Child("l").ReadOnce(func(s remote.Snapshot) { got = s }, nil)
	tree.Drain()

	assert.Equal(t, []string{"2", "10", "b", "n", "s"}, got.Keys())
}

func TestTree_SubscribeValue(t *testing.T) {
	tree := newTree(t)
	n := tree.Root().Child("r")

	var seen []any
	sub := n.SubscribeValue(func(s remote.Snapshot) { seen = append(seen, s.Value()) }, nil)
	tree.Drain()
	require.Equal(t, []any{nil}, seen, "initial snapshot of a missing node")

	n.Write(map[string]any{"a": 1}, nil)
	tree.Drain()
	n.Child("a").Write(1, nil) // same value: no notification
	tree.Drain()
	tree.Root().Child("other").Write(1, nil) // unrelated path
	tree.Drain()

	sub.Unsubscribe()
	sub.Unsubscribe()
	n.Write(map[string]any{"a": 2}, nil)
	tree.Drain()

	assert.Equal(t, []any{nil, map[string]any{"a": int64(1)}}, seen)
	assert.Equal(t, 0, tree.Subscriptions())
}

func TestTree_SubscribeValueSeesAncestorWrites(t *testing.T) {
	tree := newTree(t)
	n := tree.Root().Child("a/b")

	var seen []any
	n.SubscribeValue(func(s remote.Snapshot) { seen = append(seen, s.Value()) }, nil)
	tree.Root().Child("a").Write(map[string]any{"b": "x"}, nil)
	tree.Drain()

	assert.Equal(t, []any{nil, "x"}, seen)
}

func TestTree_ChildEvents(t *testing.T) {
	tree := newTree(t, WithData(map[string]any{"c": map[string]any{"a": map[string]any{"v": 1}}}))
	c := tree.Root().Child("c")

	var events []string
	for _, ev := range remote.ChildEvents {
		ev := ev
		c.SubscribeChild(ev, func(s remote.Snapshot) { events = append(events, string(ev)+":"+s.Key()) })
	}
	tree.Drain()
	require.Equal(t, []string{"child_added:a"}, events, "existing children replay as added")

	events = nil
	c.Child("b").Write(map[string]any{"v": 2}, nil)
	c.Child("a").Patch(map[string]any{"v": 3}, nil)
	c.Child("a").Write(nil, nil)
	tree.Drain()

	assert.Equal(t, []string{"child_added:b", "child_changed:a", "child_removed:a"}, events)
}

func TestTree_ChildMovedOnPriorityChange(t *testing.T) {
	tree := newTree(t, WithData(map[string]any{"c": map[string]any{"a": map[string]any{"v": 1}}}))
	c := tree.Root().Child("c")

	var moved []string
	c.SubscribeChild(remote.ChildMoved, func(s remote.Snapshot) { moved = append(moved, s.Key()) })
	c.Child("a").WriteWithPriority(map[string]any{"v": 1}, 7, nil)
	tree.Drain()

	assert.Equal(t, []string{"a"}, moved)
}

func TestTree_UnsubscribeDropsQueuedDeliveries(t *testing.T) {
	tree := newTree(t)
	c := tree.Root().Child("c")

	var added []string
	sub := c.SubscribeChild(remote.ChildAdded, func(s remote.Snapshot) { added = append(added, s.Key()) })
	c.Child("a").Write(1, nil)
	sub.Unsubscribe()
	tree.Drain()

	assert.Empty(t, added)
}

func TestTree_DenyFailsOperations(t *testing.T) {
	tree := newTree(t)
	tree.Deny("secret", nil)
	n := tree.Root().Child("secret/x")

	var writeErr, readErr, subErr error
	n.Write(1, func(err error) { writeErr = err })
	n.ReadOnce(nil, func(err error) { readErr = err })
	n.SubscribeValue(nil, func(err error) { subErr = err })
	tree.Drain()

	assert.ErrorIs(t, writeErr, remote.ErrPermissionDenied)
	assert.ErrorIs(t, readErr, remote.ErrPermissionDenied)
	assert.ErrorIs(t, subErr, remote.ErrPermissionDenied)

	tree.Allow("secret")
	writeErr = errors.New("unset")
	n.Write(1, func(err error) { writeErr = err })
	tree.Drain()
	assert.NoError(t, writeErr)
}

func TestTree_CallbacksRunInOrder(t *testing.T) {
	tree := newTree(t)
	n := tree.Root().Child("x")

	var order []string
	n.SubscribeValue(func(s remote.Snapshot) { order = append(order, "value") }, nil)
	n.Write(1, func(error) { order = append(order, "write") })
	tree.Post(func() { order = append(order, "post") })
	tree.Drain()

	assert.Equal(t, []string{"value", "value", "write", "post"}, order)
}

func TestTree_GenerateKey(t *testing.T) {
	tree := newTree(t, WithKeyGenerator(remote.NewFixedGenerator("k1", "k2")))

	assert.Equal(t, "k1", tree.Root().GenerateKey())
	assert.Equal(t, "k2", tree.Root().Child("a").GenerateKey())
}

func TestTree_RunDeliversUntilStopped(t *testing.T) {
	tree := newTree(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tree.Run(ctx) }()

	err := remote.Await(ctx, func(cb func(error)) { tree.Root().Child("x").Write(1, cb) })
	require.NoError(t, err)

	snap, err := remote.Read(ctx, tree.Root().Child("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Value())

	tree.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("Run did not return after Stop")
	}
}

func TestTree_RunReturnsOnCancel(t *testing.T) {
	tree := newTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, tree.Run(ctx), context.Canceled)
}

type memPersister struct {
	root     any
	prios    map[string]any
	replaced []string
	err      error
}

func (p *memPersister) ReplaceSubtree(_ context.Context, path string, value any, prios map[string]any) error {
	if p.err != nil {
		return p.err
	}
	p.replaced = append(p.replaced, path)
	p.root = setAt(p.root, path, value)
	if p.prios == nil {
		p.prios = map[string]any{}
	}
	p.prios = withoutSubtree(p.prios, path)
	for k, v := range prios {
		p.prios[k] = v
	}
	return nil
}

func (p *memPersister) LoadTree(context.Context) (any, map[string]any, error) {
	return p.root, p.prios, nil
}

func TestTree_PersistsAndReloads(t *testing.T) {
	p := &memPersister{}
	tree := newTree(t, WithPersister(p))
	tree.Root().Child("a").WriteWithPriority(map[string]any{"v": 1}, 3, nil)
	tree.Root().Patch(map[string]any{"b": "x"}, nil)
	tree.Drain()

	assert.Equal(t, []string{"a", "b"}, p.replaced)

	reloaded := newTree(t, WithPersister(p))
	assert.Equal(t, map[string]any{"a": map[string]any{"v": int64(1)}, "b": "x"}, reloaded.Value(""))

	var snap remote.Snapshot
	reloaded.Root().Child("a").ReadOnce(func(s remote.Snapshot) { snap = s }, nil)
	reloaded.Drain()
	assert.Equal(t, int64(3), snap.Priority())
}

func TestTree_PersistFailureLeavesTreeUnchanged(t *testing.T) {
	p := &memPersister{err: errors.New("disk full")}
	tree := newTree(t, WithPersister(p))

	var got error
	tree.Root().Child("a").Write(1, func(err error) { got = err })
	tree.Drain()

	assert.ErrorContains(t, got, "disk full")
	assert.Nil(t, tree.Value("a"))
}

func TestTree_SchedulerOf(t *testing.T) {
	tree := newTree(t)
	var log remote.CallLog
	rec := remote.NewRecorder(tree.Root().Child("x"), &log)

	s := remote.SchedulerOf(rec)
	require.NotNil(t, s)

	ran := false
	s.Post(func() { ran = true })
	tree.Drain()
	assert.True(t, ran)
}
