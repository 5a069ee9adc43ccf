package remote

import (
	"github.com/roach88/treesync/internal/attr"
)

// Snapshot is an immutable point-in-time view of a remote node.
//
// Value is nil when the node does not exist, a primitive for leaves, or a
// map[string]any for interior nodes. Children are iterated in the order the
// store returns them, which need not match canonical key order.
type Snapshot struct {
	key        string
	value      any
	priority   any
	order      []string
	priorities map[string]any
}

// SnapshotOption configures NewSnapshot.
type SnapshotOption func(*Snapshot)

// WithPriority records the node's own ordering priority.
func WithPriority(priority any) SnapshotOption {
	return func(s *Snapshot) { s.priority = priority }
}

// WithChildOrder fixes the iteration order of direct children.
// Keys not present in the value are ignored; children missing from order
// are appended in canonical key order.
func WithChildOrder(keys []string) SnapshotOption {
	return func(s *Snapshot) { s.order = append([]string(nil), keys...) }
}

// WithChildPriorities records the priorities of direct children.
func WithChildPriorities(priorities map[string]any) SnapshotOption {
	return func(s *Snapshot) {
		s.priorities = make(map[string]any, len(priorities))
		for k, v := range priorities {
			s.priorities[k] = v
		}
	}
}

// NewSnapshot builds a snapshot owning a private copy of value.
func NewSnapshot(key string, value any, opts ...SnapshotOption) Snapshot {
	s := Snapshot{key: key, value: attr.Clone(value)}
	for _, opt := range opts {
		opt(&s)
	}
	s.order = childOrder(s.value, s.order)
	return s
}

func childOrder(value any, preferred []string) []string {
	m, ok := attr.AsMap(value)
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(m))
	order := make([]string, 0, len(m))
	for _, k := range preferred {
		if _, ok := m[k]; ok && !seen[k] {
			seen[k] = true
			order = append(order, k)
		}
	}
	for _, k := range attr.SortedKeys(m) {
		if !seen[k] {
			order = append(order, k)
		}
	}
	return order
}

// Key returns the last path segment of the node this snapshot was read from.
func (s Snapshot) Key() string { return s.key }

// Value returns a copy of the snapshot's value.
func (s Snapshot) Value() any { return attr.Clone(s.value) }

// Exists reports whether the node held any data.
func (s Snapshot) Exists() bool { return s.value != nil }

// Priority returns the node's ordering priority, or nil.
func (s Snapshot) Priority() any { return s.priority }

// NumChildren returns the number of direct children.
func (s Snapshot) NumChildren() int { return len(s.order) }

// Keys returns direct child keys in store order.
func (s Snapshot) Keys() []string { return append([]string(nil), s.order...) }

// Child returns the snapshot of a direct child. A missing child yields a
// snapshot whose value is nil.
func (s Snapshot) Child(key string) Snapshot {
	m, _ := attr.AsMap(s.value)
	return NewSnapshot(key, m[key], WithPriority(s.priorities[key]))
}

// Children returns every direct child in store order.
func (s Snapshot) Children() []Snapshot {
	out := make([]Snapshot, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.Child(k))
	}
	return out
}

// Equal reports whether two snapshots carry the same key, value and
// priority.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.key == other.key &&
		attr.Equal(s.value, other.value) &&
		attr.Equal(s.priority, other.priority)
}
