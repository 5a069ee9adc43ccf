package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/remote/memtree"
	"github.com/roach88/treesync/internal/schema"
	"github.com/roach88/treesync/internal/syncer"
	"github.com/roach88/treesync/internal/testutil"
)

// Harness is the scenario execution engine. Each harness owns a fresh tree
// whose calls are recorded through one CallLog.
type Harness struct {
	tree    *memtree.Tree
	calls   *remote.CallLog
	root    remote.Node
	kinds   *schema.Registry
	targets map[string]*target
	logger  *slog.Logger
	result  *Result
}

// target is one bound record or collection.
type target struct {
	binding Binding
	record  *model.Record
	rc      *syncer.RecordController
	coll    *model.Collection
	cc      *syncer.CollectionController
}

// outcome captures the callbacks of one step.
type outcome struct {
	done  bool
	value any
	err   error
}

func (o *outcome) options() syncer.Options {
	return syncer.Options{
		Success: func(v any) { o.done, o.value = true, v },
		Error:   func(err error) { o.done, o.err = true, err },
	}
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes controller and tree logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
//  1. Seed a fresh tree with the scenario data and deterministic keys
//  2. Load kinds and bind every target, then drain initial deliveries
//  3. Execute flow steps, draining after each and checking expect clauses
//  4. Evaluate assertions and capture final state
//
// Run returns an error only when the scenario cannot be set up. Failed
// expectations are reported through Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		calls:   &remote.CallLog{},
		targets: make(map[string]*target),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:  NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}

	var keys remote.KeyGenerator = testutil.NewSequentialKeys("key-")
	if len(scenario.Keys) > 0 {
		keys = remote.NewFixedGenerator(scenario.Keys...)
	}
	treeOpts := []memtree.Option{memtree.WithKeyGenerator(keys), memtree.WithLogger(h.logger)}
	if len(scenario.Data) > 0 {
		treeOpts = append(treeOpts, memtree.WithData(scenario.Data))
	}
	tree, err := memtree.New(treeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tree: %w", err)
	}
	h.tree = tree
	h.root = remote.NewRecorder(tree.Root(), h.calls)

	if scenario.Kinds != "" {
		h.kinds, err = schema.LoadFile(scenario.Kinds)
		if err != nil {
			return nil, fmt.Errorf("failed to load kinds: %w", err)
		}
	}

	for _, b := range scenario.Bind {
		if err := h.bind(b); err != nil {
			return nil, fmt.Errorf("bind %s: %w", b.Name, err)
		}
	}
	defer h.close()
	tree.Drain()

	for i, step := range scenario.Flow {
		h.executeStep(i, step)
	}

	h.result.Trace = traceFromCalls(h.calls.Calls())
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, h) {
		h.result.AddError(msg)
	}
	h.captureState()

	return h.result, nil
}

func (h *Harness) bind(b Binding) error {
	var kind *model.Kind
	if b.Kind != "" {
		if h.kinds == nil {
			return fmt.Errorf("kind %q requires a kinds file", b.Kind)
		}
		k, ok := h.kinds.Lookup(b.Kind)
		if !ok {
			return fmt.Errorf("unknown kind %q", b.Kind)
		}
		kind = k
	}

	copts := []syncer.ControllerOption{syncer.WithLogger(h.logger)}
	if b.AutoSync != nil {
		copts = append(copts, syncer.WithAutoSync(*b.AutoSync))
	}
	node := h.root.Child(b.Path)
	t := &target{binding: b}

	switch b.Type {
	case BindRecord:
		rec, err := model.NewRecord(kind, b.Attrs)
		if err != nil {
			return err
		}
		rc, err := syncer.NewRecord(node, rec, copts...)
		if err != nil {
			return err
		}
		rc.OnError(h.reported)
		t.record, t.rc = rec, rc
	case BindCollection:
		coll := model.NewCollection(kind)
		cc, err := syncer.NewCollection(node, coll, copts...)
		if err != nil {
			return err
		}
		cc.OnError(h.reported)
		t.coll, t.cc = coll, cc
	}

	h.targets[b.Name] = t
	h.logger.Debug("target bound", "name", b.Name, "type", b.Type, "path", b.Path)
	return nil
}

func (h *Harness) reported(err error) {
	h.result.Reported = append(h.result.Reported, err.Error())
}

func (h *Harness) close() {
	for _, t := range h.targets {
		if t.rc != nil {
			t.rc.Close()
		}
		if t.cc != nil {
			t.cc.Close()
		}
	}
}

// executeStep runs one step, drains the tree and validates the expect
// clause.
func (h *Harness) executeStep(i int, step FlowStep) {
	var (
		out *outcome
		err error
	)
	if remoteSteps[step.Do] {
		err = h.executeRemote(step)
	} else {
		out, err = h.executeLocal(step)
	}
	h.tree.Drain()

	if err != nil {
		h.result.AddError(fmt.Sprintf("flow[%d] %s: %v", i, step.Do, err))
		return
	}
	h.logger.Debug("flow step completed", "step", i, "do", step.Do, "target", step.Target)

	if step.Expect == nil {
		return
	}
	if out == nil {
		h.result.AddError(fmt.Sprintf("flow[%d] %s: step has no outcome to expect", i, step.Do))
		return
	}
	if msg := checkExpect(out, step.Expect); msg != "" {
		h.result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Do, msg))
	}
}

func (h *Harness) executeLocal(step FlowStep) (*outcome, error) {
	t := h.targets[step.Target]
	out := &outcome{}

	switch step.Do {
	case StepSet:
		r, err := t.subject(step.ID)
		if err != nil {
			return nil, err
		}
		return nil, r.Set(step.Attrs)

	case StepUnset:
		r, err := t.subject(step.ID)
		if err != nil {
			return nil, err
		}
		return nil, r.Unset(step.Keys)

	case StepSave:
		if t.rc != nil {
			t.rc.Save(out.options())
			return out, nil
		}
		r, err := t.member(step.ID)
		if err != nil {
			return nil, err
		}
		t.cc.SaveMember(r, out.options())
		return out, nil

	case StepFetch:
		if t.rc != nil {
			t.rc.Fetch(out.options())
			return out, nil
		}
		opts := out.options()
		opts.Reset = step.Reset
		t.cc.Fetch(opts)
		return out, nil

	case StepDestroy:
		if t.rc != nil {
			t.rc.Destroy(out.options())
			return out, nil
		}
		r, err := t.member(step.ID)
		if err != nil {
			return nil, err
		}
		t.cc.DestroyMember(r, out.options())
		return out, nil

	case StepCreate:
		if t.cc == nil {
			return nil, errors.New("create requires a collection")
		}
		_, err := t.cc.CreateAttributes(step.Attrs, out.options())
		return out, err

	case StepAdd:
		if t.cc == nil {
			return nil, errors.New("add requires a collection")
		}
		r, err := t.coll.NewMember(step.Attrs)
		if err != nil {
			return nil, err
		}
		return nil, t.cc.Add([]*model.Record{r})

	case StepRemove:
		r, err := t.member(step.ID)
		if err != nil {
			return nil, err
		}
		t.cc.Remove([]*model.Record{r})
		return nil, nil

	case StepReset:
		if t.cc == nil {
			return nil, errors.New("reset requires a collection")
		}
		records := make([]*model.Record, 0, len(step.Items))
		for _, item := range step.Items {
			r, err := t.coll.NewMember(item)
			if err != nil {
				return nil, err
			}
			records = append(records, r)
		}
		return out, t.cc.Reset(records, out.options())

	case StepSync:
		op, err := syncer.ParseOperation(step.Op)
		if err != nil {
			return nil, err
		}
		opts := out.options()
		opts.Parse = true
		opts.Reset = step.Reset
		if t.rc != nil {
			return out, t.rc.Sync(op, opts)
		}
		return out, t.cc.Sync(op, opts)
	}
	return nil, fmt.Errorf("unknown step %q", step.Do)
}

// executeRemote acts on the tree as a second, unrecorded client.
func (h *Harness) executeRemote(step FlowStep) error {
	var err error
	done := func(e error) { err = e }
	node := h.tree.Root().Child(step.Path)

	switch step.Do {
	case StepRemoteWrite:
		node.Write(step.Value, done)
	case StepRemotePatch:
		values, ok := attr.AsMap(step.Value)
		if !ok {
			return fmt.Errorf("remote_patch value must be a mapping, got %T", step.Value)
		}
		node.Patch(values, done)
	case StepRemoteDelete:
		node.Write(nil, done)
	case StepDeny:
		h.tree.Deny(step.Path, nil)
		return nil
	case StepAllow:
		h.tree.Allow(step.Path)
		return nil
	}
	h.tree.Drain()
	return err
}

// subject returns the record a set/unset step acts on.
func (t *target) subject(id string) (*model.Record, error) {
	if t.record != nil {
		return t.record, nil
	}
	return t.member(id)
}

func (t *target) member(id string) (*model.Record, error) {
	if t.coll == nil {
		return nil, fmt.Errorf("target %s is not a collection", t.binding.Name)
	}
	r, ok := t.coll.Get(id)
	if !ok {
		return nil, fmt.Errorf("collection %s has no member %q", t.binding.Name, id)
	}
	return r, nil
}

// state returns the target's local state: a record's attributes or the
// collection's members in order.
func (t *target) state() any {
	if t.record != nil {
		return t.record.Map()
	}
	members := make([]any, 0, t.coll.Len())
	for _, r := range t.coll.Records() {
		members = append(members, r.Map())
	}
	return members
}

func (h *Harness) captureState() {
	for name, t := range h.targets {
		h.result.State[name] = t.state()
	}
	h.result.State["remote"] = h.tree.Value("")
}

func checkExpect(out *outcome, expect *ExpectClause) string {
	if !out.done {
		return "operation did not complete"
	}

	switch expect.Case {
	case CaseSuccess:
		if out.err != nil {
			return fmt.Sprintf("expected success, got error: %v", out.err)
		}
		if len(expect.Result) > 0 {
			actual, ok := attr.AsMap(out.value)
			if !ok {
				return fmt.Sprintf("expected result fields %v, got %v", expect.Result, out.value)
			}
			if msg := matchFields(actual, expect.Result); msg != "" {
				return "result " + msg
			}
		}
	case CaseError:
		if out.err == nil {
			return "expected error, got success"
		}
		if expect.Code != "" {
			var se *syncer.SyncError
			if !errors.As(out.err, &se) || string(se.Code) != expect.Code {
				return fmt.Sprintf("expected error code %s, got: %v", expect.Code, out.err)
			}
		}
	}
	return ""
}
