package memtree

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/remote"
)

// The tree is stored as nested map[string]any values that are never
// mutated after publication. setAt copies only the maps along the written
// path, so a root captured before a write remains a valid "before" view.

// valueAt returns the value stored at path, nil if absent.
func valueAt(root any, path string) any {
	cur := root
	for _, seg := range remote.SplitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// setAt returns a new root with value stored at path. A nil value deletes
// the node and prunes ancestors left empty.
func setAt(root any, path string, value any) any {
	return setSegments(root, remote.SplitPath(path), value)
}

func setSegments(cur any, segments []string, value any) any {
	if len(segments) == 0 {
		return value
	}
	m, _ := cur.(map[string]any)
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	child := setSegments(m[segments[0]], segments[1:], value)
	if child == nil {
		delete(out, segments[0])
	} else {
		out[segments[0]] = child
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// prune removes nil entries and empty objects. Empty arrays are kept as
// leaves.
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, child := range m {
		if p := prune(child); p != nil {
			out[k] = p
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// extractPriorities strips ".priority" keys from value, returning the
// cleaned value and the priorities keyed by absolute path.
func extractPriorities(path string, value any) (any, map[string]any) {
	prios := make(map[string]any)
	clean := extractInto(path, value, prios)
	return clean, prios
}

func extractInto(path string, value any, prios map[string]any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any, len(m))
	for k, child := range m {
		if k == attr.PriorityKey {
			if child != nil {
				prios[path] = child
			}
			continue
		}
		out[k] = extractInto(remote.JoinPath(path, k), child, prios)
	}
	return out
}

// validateValue rejects keys that cannot be stored.
func validateValue(value any) error {
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	for k, child := range m {
		if err := remote.ValidateKey(k); err != nil {
			return fmt.Errorf("%w: %v", remote.ErrInvalidValue, err)
		}
		if err := validateValue(child); err != nil {
			return err
		}
	}
	return nil
}

// validatePriority accepts nil, numbers and strings.
func validatePriority(p any) error {
	switch p.(type) {
	case nil, int64, float64, string:
		return nil
	}
	return fmt.Errorf("%w: priority must be a number or string, got %T", remote.ErrInvalidValue, p)
}

// isUnder reports whether path equals prefix or lies beneath it.
func isUnder(path, prefix string) bool {
	if prefix == "" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// withoutSubtree returns a copy of prios with every entry at or under path
// removed.
func withoutSubtree(prios map[string]any, path string) map[string]any {
	out := make(map[string]any, len(prios))
	for p, v := range prios {
		if !isUnder(p, path) {
			out[p] = v
		}
	}
	return out
}

// orderChildren sorts the keys of a node's children the way the store
// iterates them: children without priority first, then numeric priorities
// ascending, then string priorities; ties broken by key, with 32-bit
// integer keys numerically before other keys.
func orderChildren(m map[string]any, priorityOf func(key string) any) []string {
	keys := attr.SortedKeys(m)
	slices.SortStableFunc(keys, func(a, b string) int {
		if c := comparePriority(priorityOf(a), priorityOf(b)); c != 0 {
			return c
		}
		return compareChildKeys(a, b)
	})
	return keys
}

func priorityRank(p any) int {
	switch p.(type) {
	case nil:
		return 0
	case int64, float64:
		return 1
	default:
		return 2
	}
}

func comparePriority(a, b any) int {
	ra, rb := priorityRank(a), priorityRank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case int64, float64:
		return compareFloat(toFloat(av), toFloat(b))
	case string:
		return attr.CompareKeys(av, b.(string))
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return math.NaN()
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareChildKeys(a, b string) int {
	ai, aInt := intKey(a)
	bi, bInt := intKey(b)
	switch {
	case aInt && bInt:
		return compareFloat(float64(ai), float64(bi))
	case aInt:
		return -1
	case bInt:
		return 1
	}
	return attr.CompareKeys(a, b)
}

func intKey(k string) (int64, bool) {
	n, err := strconv.ParseInt(k, 10, 32)
	if err != nil || strconv.FormatInt(n, 10) != k {
		return 0, false
	}
	return n, true
}
