package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/treesync/internal/attr"
)

// GoldenDir is the fixture directory golden traces are stored in, relative
// to the package under test.
const GoldenDir = "testdata/golden"

// FormatTrace renders a trace as golden file content: a "scenario: <name>"
// header followed by one canonical JSON object per call. Each line ends in a
// newline so diffs stay line-oriented.
//
//	scenario: record_continuous_patch
//	{"op":"subscribe_value","path":"items/a","seq":1}
//	{"op":"patch","path":"items/a","seq":2,"value":{"b":2}}
func FormatTrace(name string, trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", name)

	for _, event := range trace {
		line := map[string]any{
			"seq":  event.Seq,
			"op":   event.Op,
			"path": event.Path,
		}
		if event.Value != nil {
			line["value"] = event.Value
		}
		if event.Priority != nil {
			line["priority"] = event.Priority
		}

		data, err := attr.MarshalCanonical(line)
		if err != nil {
			return nil, fmt.Errorf("trace event %d: %w", event.Seq, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass as well.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()
	return AssertGoldenIn(t, GoldenDir, scenarioName, result)
}

// AssertGoldenIn is AssertGolden with golden files kept in dir.
func AssertGoldenIn(t *testing.T, dir, scenarioName string, result *Result) error {
	t.Helper()

	data, err := FormatTrace(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
