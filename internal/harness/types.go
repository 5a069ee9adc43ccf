package harness

import (
	"github.com/roach88/treesync/internal/remote"
)

// TraceEvent is one call a controller made against the remote tree.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Op       string `json:"op"`
	Path     string `json:"path"`
	Value    any    `json:"value,omitempty"`
	Priority any    `json:"priority,omitempty"`
}

// Label returns "op path", the form trace_order assertions use.
func (e TraceEvent) Label() string {
	return e.Op + " " + e.Path
}

func traceFromCalls(calls []remote.Call) []TraceEvent {
	out := make([]TraceEvent, len(calls))
	for i, c := range calls {
		out[i] = TraceEvent{
			Seq:      int64(i + 1),
			Op:       c.Op,
			Path:     c.Path,
			Value:    c.Value,
			Priority: c.Priority,
		}
	}
	return out
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every recorded call in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Reported collects errors delivered to controller observers, such as
	// failed automatic writes.
	Reported []string `json:"reported,omitempty"`

	// State maps each bound target name to its final local state, and
	// "remote" to the final remote tree.
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Writes returns the trace events that mutate the store.
func (r *Result) Writes() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if isWrite(e.Op) {
			out = append(out, e)
		}
	}
	return out
}

func isWrite(op string) bool {
	switch op {
	case remote.OpWrite, remote.OpPatch, remote.OpWriteWithPriority:
		return true
	}
	return false
}
