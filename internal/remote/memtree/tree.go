package memtree

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/remote"
)

// Persister durably stores committed subtrees.
// Implemented by *store.Store.
type Persister interface {
	ReplaceSubtree(ctx context.Context, path string, value any, priorities map[string]any) error
	LoadTree(ctx context.Context) (root any, priorities map[string]any, err error)
}

// Tree is an in-process hierarchical store with change notifications.
//
// Thread-safety: every exported method is safe for concurrent use. Run (or
// Drain) must only be driven from one goroutine at a time.
type Tree struct {
	mu     sync.Mutex
	root   any
	prios  map[string]any
	subs   []*subscription // creation order
	nextID int64
	denied map[string]error

	queue   *taskQueue
	keys    remote.KeyGenerator
	persist Persister
	logger  *slog.Logger
}

// Option configures a Tree.
type Option func(*Tree)

// WithKeyGenerator sets the generator behind Node.GenerateKey.
// Default: remote.UUIDv7Generator.
func WithKeyGenerator(g remote.KeyGenerator) Option {
	return func(t *Tree) { t.keys = g }
}

// WithPersister writes every mutation through p and loads the initial tree
// from it.
func WithPersister(p Persister) Option {
	return func(t *Tree) { t.persist = p }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tree) { t.logger = l }
}

// WithData seeds the tree with an initial value at the root. Ignored when a
// persister already holds data.
func WithData(value any) Option {
	return func(t *Tree) {
		v, err := attr.Normalize(value)
		if err != nil {
			panic(fmt.Sprintf("memtree: invalid seed data: %v", err))
		}
		clean, prios := extractPriorities("", v)
		t.root = prune(clean)
		for p, pr := range prios {
			t.prios[p] = pr
		}
	}
}

// New creates a Tree.
func New(opts ...Option) (*Tree, error) {
	t := &Tree{
		prios:  make(map[string]any),
		denied: make(map[string]error),
		queue:  newTaskQueue(),
		keys:   remote.UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.persist != nil {
		root, prios, err := t.persist.LoadTree(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load tree: %w", err)
		}
		if root != nil {
			t.root = root
			t.prios = prios
		} else if t.root != nil {
			if err := t.persist.ReplaceSubtree(context.Background(), "", t.root, t.prios); err != nil {
				return nil, fmt.Errorf("persist seed data: %w", err)
			}
		}
	}

	return t, nil
}

// Root returns the node at the root of the tree.
func (t *Tree) Root() remote.Node {
	return &node{tree: t, path: ""}
}

// Ref returns the node at path.
func (t *Tree) Ref(path string) (remote.Node, error) {
	clean, err := remote.CleanPath(path)
	if err != nil {
		return nil, err
	}
	return &node{tree: t, path: clean}, nil
}

// Value returns a copy of the value currently stored at path.
func (t *Tree) Value(path string) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return attr.Clone(valueAt(t.root, path))
}

// Deny makes every read, write and subscription at or beneath prefix fail
// with err (remote.ErrPermissionDenied if err is nil).
func (t *Tree) Deny(prefix string, err error) {
	if err == nil {
		err = remote.ErrPermissionDenied
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.denied[prefix] = err
}

// Allow lifts a Deny on prefix.
func (t *Tree) Allow(prefix string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.denied, prefix)
}

func (t *Tree) accessErrLocked(path string) error {
	for prefix, err := range t.denied {
		if isUnder(path, prefix) {
			return fmt.Errorf("%s: %w", pathLabel(path), err)
		}
	}
	return nil
}

func pathLabel(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

// Post queues fn on the delivery loop. Implements remote.Scheduler.
func (t *Tree) Post(fn func()) {
	if !t.queue.Enqueue(fn) {
		t.logger.Debug("task dropped after stop")
	}
}

// Pending returns the number of queued callbacks.
func (t *Tree) Pending() int {
	return t.queue.Len()
}

// Drain delivers queued callbacks, including any they enqueue, until the
// queue is empty. Returns the number delivered.
//
// Tests use Drain instead of Run for deterministic delivery.
func (t *Tree) Drain() int {
	n := 0
	for {
		fn, ok := t.queue.TryDequeue()
		if !ok {
			return n
		}
		fn()
		n++
	}
}

// Run delivers callbacks until ctx is cancelled or Stop is called.
// Must be called from exactly one goroutine.
func (t *Tree) Run(ctx context.Context) error {
	t.logger.Debug("tree loop starting")

	for {
		if fn, ok := t.queue.TryDequeue(); ok {
			fn()
			continue
		}

		select {
		case <-ctx.Done():
			t.logger.Debug("tree loop stopping", "reason", ctx.Err())
			return ctx.Err()
		case _, open := <-t.queue.Wait():
			if !open && t.queue.Len() == 0 {
				t.logger.Debug("tree loop stopped")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once queued callbacks are delivered.
func (t *Tree) Stop() {
	t.queue.Close()
}

// state is an immutable view of the tree used for before/after diffs.
type state struct {
	root  any
	prios map[string]any
}

func (t *Tree) stateLocked() state {
	return state{root: t.root, prios: t.prios}
}

// snapshotAt builds the snapshot of path in s.
func snapshotAt(s state, path string) remote.Snapshot {
	v := valueAt(s.root, path)
	opts := []remote.SnapshotOption{remote.WithPriority(s.prios[path])}
	if m, ok := v.(map[string]any); ok {
		childPrios := make(map[string]any)
		priorityOf := func(k string) any { return s.prios[remote.JoinPath(path, k)] }
		for k := range m {
			if p := priorityOf(k); p != nil {
				childPrios[k] = p
			}
		}
		opts = append(opts,
			remote.WithChildOrder(orderChildren(m, priorityOf)),
			remote.WithChildPriorities(childPrios))
	}
	return remote.NewSnapshot(remote.LastSegment(path), v, opts...)
}

// change is one subtree replacement within a mutation.
type change struct {
	path     string
	value    any
	prios    map[string]any
	priority any
	setPrio  bool
}

// commit applies changes atomically, persists them, queues notifications
// and finally queues onDone.
func (t *Tree) commit(op string, changes []change, onDone func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range changes {
		if err := t.accessErrLocked(c.path); err != nil {
			t.logger.Debug("write denied", "op", op, "path", c.path)
			t.complete(onDone, err)
			return
		}
	}

	before := t.stateLocked()
	root := t.root
	prios := t.prios
	for _, c := range changes {
		root = setAt(root, c.path, c.value)
		prios = withoutSubtree(prios, c.path)
		if c.value == nil {
			continue
		}
		for p, pr := range c.prios {
			if valueAt(root, p) != nil {
				prios[p] = pr
			}
		}
		if c.setPrio && c.priority != nil {
			prios[c.path] = c.priority
		}
	}

	if t.persist != nil {
		after := state{root: root, prios: prios}
		for _, c := range changes {
			v := valueAt(after.root, c.path)
			if err := t.persist.ReplaceSubtree(context.Background(), c.path, v, subtreePrios(after.prios, c.path)); err != nil {
				t.logger.Error("persist failed", "op", op, "path", c.path, "error", err)
				t.complete(onDone, fmt.Errorf("persist %s: %w", pathLabel(c.path), err))
				return
			}
		}
	}

	t.root = root
	t.prios = prios
	t.logger.Debug("committed", "op", op, "changes", len(changes))

	t.notifyLocked(before, t.stateLocked())
	t.complete(onDone, nil)
}

func subtreePrios(prios map[string]any, path string) map[string]any {
	out := make(map[string]any)
	for p, v := range prios {
		if isUnder(p, path) {
			out[p] = v
		}
	}
	return out
}

// complete queues onDone(err). Safe with t.mu held.
func (t *Tree) complete(onDone func(error), err error) {
	if onDone == nil {
		return
	}
	if !t.queue.Enqueue(func() { onDone(err) }) {
		t.logger.Debug("completion dropped after stop", "error", err)
	}
}

// fail queues onDone(err) for an operation rejected before commit.
func (t *Tree) fail(onDone func(error), err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.complete(onDone, err)
}
