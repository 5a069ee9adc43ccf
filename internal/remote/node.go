package remote

// ChildEvent names a child-level notification stream.
type ChildEvent string

const (
	ChildAdded   ChildEvent = "child_added"
	ChildChanged ChildEvent = "child_changed"
	ChildRemoved ChildEvent = "child_removed"
	ChildMoved   ChildEvent = "child_moved"
)

// ChildEvents lists every child event in the order controllers subscribe.
var ChildEvents = []ChildEvent{ChildAdded, ChildMoved, ChildChanged, ChildRemoved}

// Node wraps one addressable path in the remote tree.
//
// All methods return immediately. Completion callbacks (onDone, onSnapshot,
// onError) may be nil and are invoked later, on the store's delivery
// context, never from inside the call that registered them.
type Node interface {
	// Path returns the slash-separated path of this node, "" for the root.
	Path() string

	// Key returns the last path segment, "" for the root.
	Key() string

	// Child returns the node at a path relative to this one.
	Child(path string) Node

	// ReadOnce reads the current value once.
	ReadOnce(onSnapshot func(Snapshot), onError func(error))

	// Write replaces the entire subtree. A nil value deletes the node.
	Write(value any, onDone func(error))

	// Patch merges the given keys into this node. Keys mapped to nil are
	// deleted; keys not mentioned are left untouched.
	Patch(values map[string]any, onDone func(error))

	// WriteWithPriority replaces the subtree and sets its ordering priority.
	WriteWithPriority(value any, priority any, onDone func(error))

	// GenerateKey returns a unique, roughly time-ordered child key without
	// performing a write.
	GenerateKey() string

	// SubscribeValue delivers the current value and every subsequent change.
	// onError fires at most once; the subscription is cancelled after it.
	SubscribeValue(onSnapshot func(Snapshot), onError func(error)) Subscription

	// SubscribeChild delivers one snapshot per child event. ChildAdded first
	// replays every existing child in store order.
	SubscribeChild(event ChildEvent, onSnapshot func(Snapshot)) Subscription
}

// Subscription is a handle to a notification stream.
type Subscription interface {
	// Unsubscribe stops delivery. It is safe to call more than once.
	Unsubscribe()
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() { f() }

// Scheduler is implemented by stores that deliver callbacks on one event
// loop. Post queues fn to run on that loop after work already queued.
type Scheduler interface {
	Post(fn func())
}

// SchedulerOf returns n's Scheduler, or nil if n does not implement one.
func SchedulerOf(n Node) Scheduler {
	if s, ok := n.(Scheduler); ok {
		return s
	}
	if u, ok := n.(interface{ Unwrap() Node }); ok {
		return SchedulerOf(u.Unwrap())
	}
	return nil
}
