package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/treesync/internal/attr"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Label(), formatValue(event.Value))
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure. h supplies the state for final_state assertions and may be nil
// when none are present.
func EvaluateAssertions(result *Result, assertions []Assertion, h *Harness) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			if h == nil {
				err = fmt.Errorf("final_state assertion has no harness state")
			} else {
				err = h.assertFinalState(a)
			}
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// matchEvent reports whether event has the assertion's op, and its path and
// value when given.
func matchEvent(event TraceEvent, a Assertion) bool {
	if a.Op != "" && event.Op != a.Op {
		return false
	}
	if a.Path != "" && event.Path != a.Path {
		return false
	}
	if a.Value != nil && !attr.Equal(event.Value, a.Value) {
		return false
	}
	return true
}

// assertTraceContains checks that some recorded call matches the assertion.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if matchEvent(event, a) {
			return nil
		}
	}

	expected := strings.TrimSpace(a.Op + " " + a.Path)
	if a.Value != nil {
		expected += " " + formatValue(a.Value)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that calls appear in the specified order.
// Calls don't need to be consecutive (intervening calls are allowed).
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		label := event.Label()
		if slices.Contains(a.Calls, label) && positions[label] == 0 {
			positions[label] = i + 1
		}
	}

	for _, call := range a.Calls {
		if positions[call] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all calls present: %v", a.Calls),
				Actual:   fmt.Sprintf("missing call: %s", call),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Calls); i++ {
		prev, curr := a.Calls[i-1], a.Calls[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("calls in order: %v", a.Calls),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks the number of calls matching op and path. Without
// an op it counts store mutations.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if a.Op == "" && !isWrite(event.Op) {
			continue
		}
		if matchEvent(event, a) {
			count++
		}
	}

	if count != a.Count {
		what := a.Op
		if what == "" {
			what = "writes"
		}
		if a.Path != "" {
			what += " at " + a.Path
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalState checks a target's local state or the remote value at a
// path.
func (h *Harness) assertFinalState(a Assertion) error {
	if a.Target == "" {
		return assertRemoteState(h.tree.Value(a.Path), a)
	}

	t, ok := h.targets[a.Target]
	if !ok {
		return fmt.Errorf("unknown target %q", a.Target)
	}

	if t.coll != nil && a.ID == "" {
		ids := t.coll.IDs()
		if a.IDs != nil && !slices.Equal(ids, a.IDs) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s members %v", a.Target, a.IDs),
				Actual:   fmt.Sprintf("members %v", ids),
			}
		}
		return nil
	}

	subject, err := t.subject(a.ID)
	if a.Absent {
		if err == nil && !subject.Destroyed() {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s %s absent", a.Target, a.ID),
				Actual:   fmt.Sprintf("present: %s", formatValue(subject.Map())),
			}
		}
		return nil
	}
	if err != nil {
		return err
	}
	if msg := matchFields(subject.Map(), a.Expect); msg != "" {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s %s", a.Target, formatValue(a.Expect)),
			Actual:   msg,
		}
	}
	return nil
}

func assertRemoteState(value any, a Assertion) error {
	path := a.Path
	if path == "" {
		path = "/"
	}
	if a.Absent {
		if value != nil {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s absent", path),
				Actual:   fmt.Sprintf("value %s", formatValue(value)),
			}
		}
		return nil
	}

	m, ok := attr.AsMap(value)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("object at %s", path),
			Actual:   fmt.Sprintf("value %s", formatValue(value)),
		}
	}
	if msg := matchFields(m, a.Expect); msg != "" {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s %s", path, formatValue(a.Expect)),
			Actual:   msg,
		}
	}
	return nil
}

// matchFields checks that actual contains every expected field (subset
// match). An expected nil requires the field to be absent. Returns "" on
// match, otherwise a description of the first mismatch in key order.
func matchFields(actual, expected map[string]any) string {
	for _, key := range attr.SortedKeys(expected) {
		want := expected[key]
		got, exists := actual[key]
		switch {
		case want == nil && exists:
			return fmt.Sprintf("field %q = %s, want absent", key, formatValue(got))
		case want == nil:
		case !exists:
			return fmt.Sprintf("field %q missing", key)
		case !attr.Equal(got, want):
			return fmt.Sprintf("field %q = %s, want %s", key, formatValue(got), formatValue(want))
		}
	}
	return ""
}

// formatValue renders v as canonical JSON, falling back to %v.
func formatValue(v any) string {
	data, err := attr.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
