package memtree

import (
	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/remote"
)

// valueEvent marks a subscription to whole-node value snapshots.
const valueEvent remote.ChildEvent = "value"

type subscription struct {
	id         int64
	path       string
	event      remote.ChildEvent
	onSnapshot func(remote.Snapshot)
	active     bool
}

func (n *node) SubscribeValue(onSnapshot func(remote.Snapshot), onError func(error)) remote.Subscription {
	t := n.tree
	if err := n.validPath(); err != nil {
		t.Post(func() { callError(onError, err) })
		return remote.SubscriptionFunc(func() {})
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.accessErrLocked(n.path); err != nil {
		t.queue.Enqueue(func() { callError(onError, err) })
		return remote.SubscriptionFunc(func() {})
	}

	sub := t.addLocked(n.path, valueEvent, onSnapshot)
	// Later changes queue their own notifications behind this one.
	t.deliverLocked(sub, snapshotAt(t.stateLocked(), n.path))
	return t.cancelFunc(sub)
}

func (n *node) SubscribeChild(event remote.ChildEvent, onSnapshot func(remote.Snapshot)) remote.Subscription {
	t := n.tree
	if err := n.validPath(); err != nil {
		t.logger.Warn("child subscription on invalid path", "path", n.path, "error", err)
		return remote.SubscriptionFunc(func() {})
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.accessErrLocked(n.path); err != nil {
		t.logger.Debug("child subscription denied", "path", n.path, "event", event)
		return remote.SubscriptionFunc(func() {})
	}

	sub := t.addLocked(n.path, event, onSnapshot)
	if event == remote.ChildAdded {
		// Existing children replay as additions.
		snap := snapshotAt(t.stateLocked(), n.path)
		for _, child := range snap.Children() {
			t.deliverLocked(sub, child)
		}
	}
	return t.cancelFunc(sub)
}

func (t *Tree) addLocked(path string, event remote.ChildEvent, onSnapshot func(remote.Snapshot)) *subscription {
	if onSnapshot == nil {
		onSnapshot = func(remote.Snapshot) {}
	}
	t.nextID++
	sub := &subscription{
		id:         t.nextID,
		path:       path,
		event:      event,
		onSnapshot: onSnapshot,
		active:     true,
	}
	t.subs = append(t.subs, sub)
	return sub
}

func (t *Tree) cancelFunc(sub *subscription) remote.Subscription {
	return remote.SubscriptionFunc(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !sub.active {
			return
		}
		sub.active = false
		for i, s := range t.subs {
			if s == sub {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				break
			}
		}
	})
}

// Subscriptions returns the number of live subscriptions.
func (t *Tree) Subscriptions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// deliverLocked queues snap for sub. Delivery is skipped if sub was
// cancelled in the meantime.
func (t *Tree) deliverLocked(sub *subscription, snap remote.Snapshot) {
	t.queue.Enqueue(func() {
		t.mu.Lock()
		active := sub.active
		t.mu.Unlock()
		if active {
			sub.onSnapshot(snap)
		}
	})
}

// notifyLocked queues notifications for every subscription whose view
// differs between before and after. Subscriptions are visited in creation
// order.
func (t *Tree) notifyLocked(before, after state) {
	for _, sub := range t.subs {
		if sub.event == valueEvent {
			if nodeChanged(before, after, sub.path) {
				t.deliverLocked(sub, snapshotAt(after, sub.path))
			}
			continue
		}
		for _, snap := range childChanges(before, after, sub.path, sub.event) {
			t.deliverLocked(sub, snap)
		}
	}
}

func nodeChanged(before, after state, path string) bool {
	if !attr.Equal(valueAt(before.root, path), valueAt(after.root, path)) {
		return true
	}
	for p := range before.prios {
		if isUnder(p, path) && !attr.Equal(before.prios[p], after.prios[p]) {
			return true
		}
	}
	for p := range after.prios {
		if isUnder(p, path) && !attr.Equal(before.prios[p], after.prios[p]) {
			return true
		}
	}
	return false
}

// childChanges lists the child snapshots one child event subscription at
// path should receive.
func childChanges(before, after state, path string, event remote.ChildEvent) []remote.Snapshot {
	bm, _ := valueAt(before.root, path).(map[string]any)
	am, _ := valueAt(after.root, path).(map[string]any)
	if len(bm) == 0 && len(am) == 0 {
		return nil
	}

	var out []remote.Snapshot
	switch event {
	case remote.ChildRemoved:
		bs := snapshotAt(before, path)
		for _, k := range bs.Keys() {
			if _, ok := am[k]; !ok {
				out = append(out, bs.Child(k))
			}
		}
	case remote.ChildAdded:
		as := snapshotAt(after, path)
		for _, k := range as.Keys() {
			if _, ok := bm[k]; !ok {
				out = append(out, as.Child(k))
			}
		}
	case remote.ChildChanged:
		as := snapshotAt(after, path)
		for _, k := range as.Keys() {
			if _, ok := bm[k]; ok && nodeChanged(before, after, remote.JoinPath(path, k)) {
				out = append(out, as.Child(k))
			}
		}
	case remote.ChildMoved:
		as := snapshotAt(after, path)
		for _, k := range as.Keys() {
			child := remote.JoinPath(path, k)
			if _, ok := bm[k]; ok && !attr.Equal(before.prios[child], after.prios[child]) {
				out = append(out, as.Child(k))
			}
		}
	}
	return out
}
