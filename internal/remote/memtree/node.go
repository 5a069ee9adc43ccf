package memtree

import (
	"fmt"
	"strings"

	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/remote"
)

// node is a reference to one path in a Tree.
type node struct {
	tree *Tree
	path string
}

var (
	_ remote.Node      = (*node)(nil)
	_ remote.Scheduler = (*node)(nil)
)

func (n *node) Path() string { return n.path }

func (n *node) Key() string { return remote.LastSegment(n.path) }

func (n *node) Child(path string) remote.Node {
	clean, err := remote.CleanPath(path)
	if err != nil {
		// Keep the invalid segment so every operation on the child fails
		// with ErrInvalidPath.
		return &node{tree: n.tree, path: remote.JoinPath(n.path, strings.Trim(path, "/"))}
	}
	return &node{tree: n.tree, path: remote.JoinPath(n.path, clean)}
}

// Post implements remote.Scheduler by queueing on the tree's loop.
func (n *node) Post(fn func()) { n.tree.Post(fn) }

func (n *node) validPath() error {
	if _, err := remote.CleanPath(n.path); err != nil {
		return err
	}
	return nil
}

func (n *node) GenerateKey() string {
	return n.tree.keys.Generate()
}

func (n *node) ReadOnce(onSnapshot func(remote.Snapshot), onError func(error)) {
	t := n.tree
	if err := n.validPath(); err != nil {
		t.Post(func() { callError(onError, err) })
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.accessErrLocked(n.path); err != nil {
		t.queue.Enqueue(func() { callError(onError, err) })
		return
	}
	// Read the state at delivery time so the callback observes every write
	// queued before it.
	t.queue.Enqueue(func() {
		t.mu.Lock()
		snap := snapshotAt(t.stateLocked(), n.path)
		t.mu.Unlock()
		if onSnapshot != nil {
			onSnapshot(snap)
		}
	})
}

func (n *node) Write(value any, onDone func(error)) {
	n.write("write", value, nil, false, onDone)
}

func (n *node) WriteWithPriority(value any, priority any, onDone func(error)) {
	n.write("write_with_priority", value, priority, true, onDone)
}

func (n *node) write(op string, value any, priority any, setPrio bool, onDone func(error)) {
	t := n.tree
	if err := n.validPath(); err != nil {
		t.fail(onDone, err)
		return
	}
	c, err := prepare(n.path, value)
	if err != nil {
		t.fail(onDone, err)
		return
	}
	if setPrio {
		p, err := attr.Normalize(priority)
		if err == nil {
			err = validatePriority(p)
		}
		if err != nil {
			t.fail(onDone, err)
			return
		}
		c.priority = p
		c.setPrio = true
	}
	t.commit(op, []change{c}, onDone)
}

// Patch merges values into the node. Keys may be relative paths; each one
// replaces the subtree it names. ".priority" cannot be patched.
func (n *node) Patch(values map[string]any, onDone func(error)) {
	t := n.tree
	if err := n.validPath(); err != nil {
		t.fail(onDone, err)
		return
	}

	changes := make([]change, 0, len(values))
	for _, k := range attr.SortedKeys(values) {
		if k == attr.PriorityKey {
			t.fail(onDone, fmt.Errorf("%w: %s cannot be patched", remote.ErrInvalidValue, attr.PriorityKey))
			return
		}
		rel, err := remote.CleanPath(k)
		if err != nil || rel == "" {
			t.fail(onDone, fmt.Errorf("%w: patch key %q", remote.ErrInvalidPath, k))
			return
		}
		c, err := prepare(remote.JoinPath(n.path, rel), values[k])
		if err != nil {
			t.fail(onDone, err)
			return
		}
		changes = append(changes, c)
	}

	for i := range changes {
		for j := range changes {
			if i != j && isUnder(changes[j].path, changes[i].path) {
				t.fail(onDone, fmt.Errorf("%w: patch paths %q and %q overlap", remote.ErrInvalidPath, changes[i].path, changes[j].path))
				return
			}
		}
	}

	t.commit("patch", changes, onDone)
}

// prepare normalizes value and splits out embedded priorities.
func prepare(path string, value any) (change, error) {
	v, err := attr.Normalize(value)
	if err != nil {
		return change{}, fmt.Errorf("%w: %v", remote.ErrInvalidValue, err)
	}
	clean, prios := extractPriorities(path, v)
	if err := validateValue(clean); err != nil {
		return change{}, err
	}
	for _, p := range prios {
		if err := validatePriority(p); err != nil {
			return change{}, err
		}
	}
	return change{path: path, value: prune(clean), prios: prios}, nil
}

func callError(onError func(error), err error) {
	if onError != nil {
		onError(err)
	}
}
