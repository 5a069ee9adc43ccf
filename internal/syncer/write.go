package syncer

import (
	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/reconcile"
	"github.com/roach88/treesync/internal/remote"
)

// splitPriority removes the priority pseudo-attribute from a copy of a.
func splitPriority(a attr.Attributes) (attr.Attributes, any, bool) {
	pr, ok := a[attr.PriorityKey]
	if !ok {
		return a, nil, false
	}
	out := a.Clone()
	delete(out, attr.PriorityKey)
	return out, pr, true
}

// writeFull destructively writes value at n, routing a priority
// pseudo-attribute through WriteWithPriority.
func writeFull(n remote.Node, value attr.Attributes, onDone func(error)) {
	clean, pr, ok := splitPriority(value)
	if ok {
		n.WriteWithPriority(clean.Map(), pr, onDone)
		return
	}
	n.Write(clean.Map(), onDone)
}

// upstreamWrite is a diff between the last known remote state and a local
// record, ready to send.
type upstreamWrite struct {
	prev  attr.Attributes
	next  attr.Attributes
	patch map[string]any
	full  attr.Attributes // non-nil when the diff touches the priority
}

// planUpstream diffs local against known. It returns false when there is
// nothing to write. Priority cannot be patched, so a diff touching it
// becomes a destructive write of local.
func planUpstream(known, local attr.Attributes) (upstreamWrite, bool) {
	patch := reconcile.DiffForUpstream(known, local)
	if len(patch) == 0 {
		return upstreamWrite{}, false
	}
	w := upstreamWrite{prev: known, patch: patch}
	if _, ok := patch[attr.PriorityKey]; ok {
		w.full = local
		w.next = local.Clone()
	} else {
		w.next = reconcile.ApplyPatch(known, patch)
	}
	return w, true
}

// send issues the write. Callers record w.next as the remote state before
// calling send so that later diffs build on it, and apply w.revert if
// onDone reports an error.
func (w upstreamWrite) send(n remote.Node, onDone func(error)) {
	if w.full != nil {
		writeFull(n, w.full, onDone)
		return
	}
	n.Patch(w.patch, onDone)
}

// revert undoes the write's keys on current after a failure.
func (w upstreamWrite) revert(current attr.Attributes) attr.Attributes {
	return reconcile.RevertPatch(current, w.prev, w.patch)
}

// schedulerFunc returns a function posting onto n's delivery loop, or nil
// if n has none.
func schedulerFunc(n remote.Node) func(func()) {
	if s := remote.SchedulerOf(n); s != nil {
		return s.Post
	}
	return nil
}

// post runs fn on n's loop if it has one, otherwise inline.
func post(n remote.Node, fn func()) {
	if s := remote.SchedulerOf(n); s != nil {
		s.Post(fn)
		return
	}
	fn()
}
