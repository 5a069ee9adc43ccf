// Package reconcile computes the writes a local change should produce and
// the local change a remote snapshot should produce.
//
// Both directions are pure: they read their inputs and return fresh values.
// Conflict resolution is last-writer-wins per top-level attribute.
package reconcile

import (
	"fmt"
	"strconv"

	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/remote"
)

// IdentityError reports a snapshot whose value cannot carry an id: a
// primitive where a record object was expected.
type IdentityError struct {
	Key   string
	Value any
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("snapshot %q holds %T, not a record object", e.Key, e.Value)
}

// DiffForUpstream returns the patch that brings lastKnownRemote up to
// local. Keys absent locally map to nil. Keys whose value differs map to
// the local value. Unchanged keys are omitted. An empty result means
// nothing needs to be written.
func DiffForUpstream(lastKnownRemote, local attr.Attributes) map[string]any {
	patch := make(map[string]any)
	for k, rv := range lastKnownRemote {
		lv, ok := local[k]
		if !ok {
			patch[k] = nil
			continue
		}
		if !attr.Equal(lv, rv) {
			patch[k] = attr.Clone(lv)
		}
	}
	for k, lv := range local {
		if _, ok := lastKnownRemote[k]; !ok {
			patch[k] = attr.Clone(lv)
		}
	}
	return patch
}

// Downstream is the local mutation a snapshot calls for.
type Downstream struct {
	// Attributes is the snapshot value with id set from the snapshot key
	// and, when the node has one, its priority under attr.PriorityKey.
	Attributes attr.Attributes

	// Unset lists local keys absent from the snapshot value, sorted. The id
	// key is never listed since Attributes always carries it.
	Unset []string
}

// ApplyDownstream computes how local must change to mirror snap.
//
// A nil snapshot value yields just the id, so listeners stay attached to a
// record whose remote node was deleted. An array becomes an object keyed
// by element index. A primitive value returns an *IdentityError and leaves
// local untouched.
func ApplyDownstream(local attr.Attributes, snap remote.Snapshot) (Downstream, error) {
	value := snap.Value()

	var attrs attr.Attributes
	switch v := value.(type) {
	case nil:
		attrs = attr.Attributes{}
	case map[string]any:
		attrs = attr.Attributes(v)
	case []any:
		attrs = make(attr.Attributes, len(v)+1)
		for i, elem := range v {
			attrs[strconv.Itoa(i)] = elem
		}
	default:
		return Downstream{}, &IdentityError{Key: snap.Key(), Value: value}
	}
	attrs[attr.IDKey] = snap.Key()
	if pr := snap.Priority(); pr != nil {
		attrs[attr.PriorityKey] = pr
	}

	var unset []string
	for _, k := range local.SortedKeys() {
		if _, ok := attrs[k]; !ok {
			unset = append(unset, k)
		}
	}
	return Downstream{Attributes: attrs, Unset: unset}, nil
}

// Apply returns local with d applied: unset keys removed, attributes set.
func (d Downstream) Apply(local attr.Attributes) attr.Attributes {
	out := local.Clone()
	if out == nil {
		out = attr.Attributes{}
	}
	for _, k := range d.Unset {
		delete(out, k)
	}
	for k, v := range d.Attributes {
		out[k] = attr.Clone(v)
	}
	return out
}

// ApplyPatch returns base with patch merged: nil values delete keys, other
// values replace them.
func ApplyPatch(base attr.Attributes, patch map[string]any) attr.Attributes {
	out := base.Clone()
	if out == nil {
		out = attr.Attributes{}
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = attr.Clone(v)
	}
	return out
}

// RevertPatch undoes patch on current for a write that failed. Each patched
// key still holding the patched value gets its prev value back; keys that
// have moved on since are left alone.
func RevertPatch(current, prev attr.Attributes, patch map[string]any) attr.Attributes {
	out := current.Clone()
	if out == nil {
		out = attr.Attributes{}
	}
	for k, v := range patch {
		cv, ok := out[k]
		if v == nil {
			if ok {
				continue
			}
		} else if !ok || !attr.Equal(cv, v) {
			continue
		}
		if pv, had := prev[k]; had {
			out[k] = attr.Clone(pv)
		} else {
			delete(out, k)
		}
	}
	return out
}
