package remote

import (
	"sync"

	"github.com/roach88/treesync/internal/attr"
)

// Call is one recorded invocation of a Node method.
type Call struct {
	Op       string `json:"op"`
	Path     string `json:"path"`
	Value    any    `json:"value,omitempty"`
	Priority any    `json:"priority,omitempty"`
}

// Recorded operation names.
const (
	OpRead              = "read"
	OpWrite             = "write"
	OpPatch             = "patch"
	OpWriteWithPriority = "write_with_priority"
	OpGenerateKey       = "generate_key"
	OpSubscribeValue    = "subscribe_value"
	OpSubscribeChild    = "subscribe_"
)

// CallLog collects calls made through one or more Recorders.
type CallLog struct {
	mu    sync.Mutex
	calls []Call
}

func (l *CallLog) add(c Call) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

// Calls returns a copy of every recorded call in order.
func (l *CallLog) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// Writes returns only the calls that mutate the store.
func (l *CallLog) Writes() []Call {
	var out []Call
	for _, c := range l.Calls() {
		switch c.Op {
		case OpWrite, OpPatch, OpWriteWithPriority:
			out = append(out, c)
		}
	}
	return out
}

// Reset discards recorded calls.
func (l *CallLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

// Recorder decorates a Node and logs every call before delegating.
// Children obtained through Child share the same CallLog.
type Recorder struct {
	Node
	log *CallLog
}

// NewRecorder wraps node, appending calls to log.
func NewRecorder(node Node, log *CallLog) *Recorder {
	return &Recorder{Node: node, log: log}
}

// Unwrap returns the decorated node.
func (r *Recorder) Unwrap() Node { return r.Node }

func (r *Recorder) Child(path string) Node {
	return &Recorder{Node: r.Node.Child(path), log: r.log}
}

func (r *Recorder) ReadOnce(onSnapshot func(Snapshot), onError func(error)) {
	r.log.add(Call{Op: OpRead, Path: r.Path()})
	r.Node.ReadOnce(onSnapshot, onError)
}

func (r *Recorder) Write(value any, onDone func(error)) {
	r.log.add(Call{Op: OpWrite, Path: r.Path(), Value: attr.Clone(value)})
	r.Node.Write(value, onDone)
}

func (r *Recorder) Patch(values map[string]any, onDone func(error)) {
	r.log.add(Call{Op: OpPatch, Path: r.Path(), Value: attr.Clone(values)})
	r.Node.Patch(values, onDone)
}

func (r *Recorder) WriteWithPriority(value any, priority any, onDone func(error)) {
	r.log.add(Call{Op: OpWriteWithPriority, Path: r.Path(), Value: attr.Clone(value), Priority: priority})
	r.Node.WriteWithPriority(value, priority, onDone)
}

func (r *Recorder) GenerateKey() string {
	key := r.Node.GenerateKey()
	r.log.add(Call{Op: OpGenerateKey, Path: r.Path(), Value: key})
	return key
}

func (r *Recorder) SubscribeValue(onSnapshot func(Snapshot), onError func(error)) Subscription {
	r.log.add(Call{Op: OpSubscribeValue, Path: r.Path()})
	return r.Node.SubscribeValue(onSnapshot, onError)
}

func (r *Recorder) SubscribeChild(event ChildEvent, onSnapshot func(Snapshot)) Subscription {
	r.log.add(Call{Op: OpSubscribeChild + string(event), Path: r.Path()})
	return r.Node.SubscribeChild(event, onSnapshot)
}
