package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// A scenario binds targets to paths of a seeded remote tree, executes a
// flow of steps and asserts on the recorded calls and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after
	// it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Kinds is an optional CUE file declaring kinds. Relative paths are
	// resolved against the scenario file's directory.
	Kinds string `yaml:"kinds,omitempty"`

	// Keys lists the child keys GenerateKey returns, in order. When empty,
	// keys come from testutil.SequentialKeys.
	Keys []string `yaml:"keys,omitempty"`

	// Data seeds the remote tree.
	Data map[string]any `yaml:"data,omitempty"`

	// Bind declares the records and collections under test.
	Bind []Binding `yaml:"bind"`

	// Flow contains the steps to execute in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Binding attaches a record or collection to a remote path.
type Binding struct {
	// Name is how flow steps and assertions refer to the target.
	Name string `yaml:"name"`

	// Type is "record" or "collection".
	Type string `yaml:"type"`

	// Path is the remote path the target is bound to.
	Path string `yaml:"path"`

	// Kind names a kind from the scenario's kinds file.
	Kind string `yaml:"kind,omitempty"`

	// AutoSync overrides the kind's mode when set.
	AutoSync *bool `yaml:"auto_sync,omitempty"`

	// Attrs are a record's initial attributes.
	Attrs map[string]any `yaml:"attrs,omitempty"`
}

// Binding types.
const (
	BindRecord     = "record"
	BindCollection = "collection"
)

// FlowStep is one action in the scenario flow.
type FlowStep struct {
	// Do names the step: one of the Step* constants.
	Do string `yaml:"do"`

	// Target is the binding the step acts on (local steps).
	Target string `yaml:"target,omitempty"`

	// ID selects a collection member.
	ID string `yaml:"id,omitempty"`

	// Path is the remote path for remote steps.
	Path string `yaml:"path,omitempty"`

	// Attrs are the attributes for set and create, or the new member for
	// add.
	Attrs map[string]any `yaml:"attrs,omitempty"`

	// Keys are the attribute names for unset.
	Keys []string `yaml:"keys,omitempty"`

	// Items are the members for reset.
	Items []map[string]any `yaml:"items,omitempty"`

	// Value is written by remote_write and remote_patch.
	Value any `yaml:"value,omitempty"`

	// Op is the operation for sync: read, create, update or delete.
	Op string `yaml:"op,omitempty"`

	// Reset makes a collection fetch replace its members.
	Reset bool `yaml:"reset,omitempty"`

	// Expect specifies the expected outcome of steps taking callbacks.
	// If nil, the outcome is not validated.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Flow step names.
const (
	StepSet          = "set"
	StepUnset        = "unset"
	StepSave         = "save"
	StepFetch        = "fetch"
	StepDestroy      = "destroy"
	StepCreate       = "create"
	StepAdd          = "add"
	StepRemove       = "remove"
	StepReset        = "reset"
	StepSync         = "sync"
	StepRemoteWrite  = "remote_write"
	StepRemotePatch  = "remote_patch"
	StepRemoteDelete = "remote_delete"
	StepDeny         = "deny"
	StepAllow        = "allow"
)

var localSteps = map[string]bool{
	StepSet: true, StepUnset: true, StepSave: true, StepFetch: true,
	StepDestroy: true, StepCreate: true, StepAdd: true, StepRemove: true,
	StepReset: true, StepSync: true,
}

var remoteSteps = map[string]bool{
	StepRemoteWrite: true, StepRemotePatch: true, StepRemoteDelete: true,
	StepDeny: true, StepAllow: true,
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Case is "success" or "error".
	Case string `yaml:"case"`

	// Code is the expected error code, e.g. "REMOTE_OPERATION".
	Code string `yaml:"code,omitempty"`

	// Result is a subset of the success value's fields.
	Result map[string]any `yaml:"result,omitempty"`
}

// Expected outcome cases.
const (
	CaseSuccess = "success"
	CaseError   = "error"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Op is the call name (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Path is the call path (trace_contains, trace_count) or the remote path
	// to inspect (final_state).
	Path string `yaml:"path,omitempty"`

	// Value is the expected call value (trace_contains). Omit to match any.
	Value any `yaml:"value,omitempty"`

	// Count is the expected number of calls (trace_count).
	Count int `yaml:"count,omitempty"`

	// Calls is the expected call order as "op path" strings (trace_order).
	Calls []string `yaml:"calls,omitempty"`

	// Target selects a binding (final_state); ID a member of it.
	Target string `yaml:"target,omitempty"`
	ID     string `yaml:"id,omitempty"`

	// Expect holds the expected attributes or remote fields (final_state,
	// subset match).
	Expect map[string]any `yaml:"expect,omitempty"`

	// IDs is the expected member order of a collection (final_state).
	IDs []string `yaml:"ids,omitempty"`

	// Absent asserts that the member or remote path does not exist
	// (final_state).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. A relative kinds path
// is resolved against the file's directory.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the kinds path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Kinds != "" && !filepath.IsAbs(scenario.Kinds) && basePath != "" {
		scenario.Kinds = filepath.Join(basePath, scenario.Kinds)
	}
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Kinds != "" {
		if _, err := os.Stat(scenario.Kinds); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: kinds file not found: %s", scenario.Kinds)
		}
	}
	return scenario, nil
}

// ParseScenario decodes scenario YAML without validating it.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and consistent.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Bind) == 0 {
		return fmt.Errorf("bind list is required and must be non-empty")
	}
	if len(s.Flow) == 0 && len(s.Assertions) == 0 {
		return fmt.Errorf("flow or assertions must be non-empty")
	}

	bindings := make(map[string]string, len(s.Bind))
	for i, b := range s.Bind {
		if b.Name == "" {
			return fmt.Errorf("bind[%d]: name is required", i)
		}
		if _, dup := bindings[b.Name]; dup {
			return fmt.Errorf("bind[%d]: duplicate name %q", i, b.Name)
		}
		if b.Type != BindRecord && b.Type != BindCollection {
			return fmt.Errorf("bind[%d]: type must be %q or %q, got %q", i, BindRecord, BindCollection, b.Type)
		}
		if b.Path == "" {
			return fmt.Errorf("bind[%d]: path is required", i)
		}
		if b.Kind != "" && s.Kinds == "" {
			return fmt.Errorf("bind[%d]: kind %q requires a kinds file", i, b.Kind)
		}
		bindings[b.Name] = b.Type
	}

	for i, step := range s.Flow {
		if err := validateStep(i, step, bindings); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, bindings); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step FlowStep, bindings map[string]string) error {
	switch {
	case step.Do == "":
		return fmt.Errorf("flow[%d]: do is required", i)
	case localSteps[step.Do]:
		if _, ok := bindings[step.Target]; !ok {
			return fmt.Errorf("flow[%d]: unknown target %q", i, step.Target)
		}
	case remoteSteps[step.Do]:
		if step.Path == "" && step.Do != StepDeny && step.Do != StepAllow {
			return fmt.Errorf("flow[%d]: path is required for %s", i, step.Do)
		}
	default:
		return fmt.Errorf("flow[%d]: unknown step %q", i, step.Do)
	}

	if step.Do == StepSync && step.Op == "" {
		return fmt.Errorf("flow[%d]: op is required for sync", i)
	}
	if step.Expect != nil && step.Expect.Case != CaseSuccess && step.Expect.Case != CaseError {
		return fmt.Errorf("flow[%d].expect: case must be %q or %q", i, CaseSuccess, CaseError)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, bindings map[string]string) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Target == "" && a.Path == "" {
			return fmt.Errorf("assertions[%d]: target or path is required for final_state", index)
		}
		if a.Target != "" {
			if _, ok := bindings[a.Target]; !ok {
				return fmt.Errorf("assertions[%d]: unknown target %q", index, a.Target)
			}
		}
		if len(a.Expect) == 0 && a.IDs == nil && !a.Absent {
			return fmt.Errorf("assertions[%d]: expect, ids or absent is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
