package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTrace is a collection sync: subscriptions, a key, two writes.
func testTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Op: "subscribe_value", Path: "items"},
		{Seq: 2, Op: "generate_key", Path: "items", Value: "k1"},
		{Seq: 3, Op: "write", Path: "items/k1", Value: map[string]any{"id": "k1", "n": int64(1)}},
		{Seq: 4, Op: "patch", Path: "items/k1", Value: map[string]any{"n": int64(2)}},
		{Seq: 5, Op: "write", Path: "items/k0"},
	}
}

func TestAssertTraceContains_Found(t *testing.T) {
	err := assertTraceContains(testTrace(), Assertion{Op: "patch", Path: "items/k1"})
	assert.NoError(t, err)
}

func TestAssertTraceContains_NotFound(t *testing.T) {
	err := assertTraceContains(testTrace(), Assertion{Op: "read"})
	require.Error(t, err)

	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Equal(t, "not found in trace", aerr.Actual)
	assert.Len(t, aerr.Trace, 5)
}

func TestAssertTraceContains_ValueMatch(t *testing.T) {
	// YAML decodes integers as int; the trace holds int64.
	err := assertTraceContains(testTrace(), Assertion{Op: "patch", Value: map[string]any{"n": 2}})
	assert.NoError(t, err)

	err = assertTraceContains(testTrace(), Assertion{Op: "patch", Value: map[string]any{"n": 3}})
	assert.Error(t, err)
}

func TestAssertTraceContains_ValueIsExact(t *testing.T) {
	err := assertTraceContains(testTrace(), Assertion{Op: "write", Path: "items/k1", Value: map[string]any{"n": 1}})
	assert.Error(t, err, "call values are compared whole, not as subsets")
}

func TestAssertTraceContains_PathRequired(t *testing.T) {
	err := assertTraceContains(testTrace(), Assertion{Op: "write", Path: "items/k2"})
	assert.Error(t, err)
}

func TestAssertTraceOrder_Correct(t *testing.T) {
	err := assertTraceOrder(testTrace(), Assertion{Calls: []string{
		"subscribe_value items", "write items/k1", "patch items/k1",
	}})
	assert.NoError(t, err)
}

func TestAssertTraceOrder_WrongOrder(t *testing.T) {
	err := assertTraceOrder(testTrace(), Assertion{Calls: []string{"patch items/k1", "write items/k1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "patch items/k1 (pos 4) should be before write items/k1 (pos 3)")
}

func TestAssertTraceOrder_MissingCall(t *testing.T) {
	err := assertTraceOrder(testTrace(), Assertion{Calls: []string{"write items/k1", "read items"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing call: read items")
}

func TestAssertTraceOrder_InterveningCallsAllowed(t *testing.T) {
	err := assertTraceOrder(testTrace(), Assertion{Calls: []string{"subscribe_value items", "write items/k0"}})
	assert.NoError(t, err)
}

func TestAssertTraceCount(t *testing.T) {
	tests := []struct {
		name    string
		a       Assertion
		wantErr bool
	}{
		{name: "writes by default", a: Assertion{Count: 3}},
		{name: "by op", a: Assertion{Op: "write", Count: 2}},
		{name: "by op and path", a: Assertion{Op: "write", Path: "items/k0", Count: 1}},
		{name: "writes at path", a: Assertion{Path: "items/k1", Count: 2}},
		{name: "zero", a: Assertion{Op: "read", Count: 0}},
		{name: "too few", a: Assertion{Op: "write", Count: 3}, wantErr: true},
		{name: "too many", a: Assertion{Op: "patch", Count: 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceCount(testTrace(), tt.a)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMatchFields(t *testing.T) {
	actual := map[string]any{"id": "a", "n": int64(1), "tags": []any{"x"}}

	assert.Empty(t, matchFields(actual, nil))
	assert.Empty(t, matchFields(actual, map[string]any{"n": 1}))
	assert.Empty(t, matchFields(actual, map[string]any{"tags": []any{"x"}, "gone": nil}))
	assert.Equal(t, `field "n" = 1, want 2`, matchFields(actual, map[string]any{"n": 2}))
	assert.Equal(t, `field "x" missing`, matchFields(actual, map[string]any{"x": 1}))
	assert.Equal(t, `field "id" = "a", want absent`, matchFields(actual, map[string]any{"id": nil}))
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	result := NewResult()
	result.Trace = testTrace()

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Op: "generate_key"},
		{Type: AssertTraceOrder, Calls: []string{"write items/k1", "write items/k0"}},
		{Type: AssertTraceCount, Count: 3},
	}, nil)
	assert.Empty(t, failures)
}

func TestEvaluateAssertions_SomeFail(t *testing.T) {
	result := NewResult()
	result.Trace = testTrace()

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Op: "generate_key"},
		{Type: AssertTraceContains, Op: "read"},
		{Type: AssertTraceCount, Count: 1},
	}, nil)
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "assertions[1]")
	assert.Contains(t, failures[1], "assertions[2]")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	failures := EvaluateAssertions(NewResult(), []Assertion{{Type: "bogus"}}, nil)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], `unknown assertion type "bogus"`)
}

func TestEvaluateAssertions_FinalStateWithoutHarness(t *testing.T) {
	failures := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertFinalState, Path: "a", Absent: true}}, nil)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "no harness state")
}

func TestAssertRemoteState(t *testing.T) {
	value := map[string]any{"x": int64(1)}

	assert.NoError(t, assertRemoteState(value, Assertion{Path: "a", Expect: map[string]any{"x": 1}}))
	assert.NoError(t, assertRemoteState(nil, Assertion{Path: "a", Absent: true}))
	assert.Error(t, assertRemoteState(value, Assertion{Path: "a", Absent: true}))
	assert.Error(t, assertRemoteState(nil, Assertion{Path: "a", Expect: map[string]any{"x": 1}}))
	assert.Error(t, assertRemoteState("leaf", Assertion{Path: "a", Expect: map[string]any{"x": 1}}))
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "2 occurrences of write",
		Actual:   "1 occurrences",
		Trace: []TraceEvent{
			{Seq: 1, Op: "write", Path: "items/a", Value: map[string]any{"x": int64(1)}},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: 2 occurrences of write")
	assert.Contains(t, msg, "Actual: 1 occurrences")
	assert.Contains(t, msg, `[1] write items/a {"x":1}`)
}
