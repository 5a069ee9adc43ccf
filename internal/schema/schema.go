// Package schema loads record kinds declared in CUE.
//
// A kinds file declares one struct per kind under the top-level "kind"
// field:
//
//	kind: todo: {
//		autoSync: false
//		orderBy:  "rank"
//		defaults: {done: false}
//	}
//
// Declarations are validated against the embedded #Kind definition, which
// is closed: unknown fields are errors.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// CompileError describes an invalid kind declaration.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}

// Registry holds kinds by name.
type Registry struct {
	kinds map[string]*model.Kind
}

// NewRegistry creates a registry holding kinds.
func NewRegistry(kinds ...*model.Kind) *Registry {
	r := &Registry{kinds: make(map[string]*model.Kind, len(kinds))}
	for _, k := range kinds {
		r.kinds[k.Name] = k
	}
	return r
}

// Lookup returns the kind with the given name. An empty name or a nil
// registry yields model.DefaultKind.
func (r *Registry) Lookup(name string) (*model.Kind, bool) {
	if name == "" {
		return model.DefaultKind, true
	}
	if r == nil {
		return nil, false
	}
	k, ok := r.kinds[name]
	return k, ok
}

// Kinds returns every kind sorted by name.
func (r *Registry) Kinds() []*model.Kind {
	if r == nil {
		return nil
	}
	out := make([]*model.Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadFile compiles a single kinds file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kinds file: %w", err)
	}
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	return compile(ctx, v)
}

// LoadString compiles kinds from CUE source.
func LoadString(src string) (*Registry, error) {
	ctx := cuecontext.New()
	return compile(ctx, ctx.CompileString(src))
}

// LoadDir compiles the CUE package in dir.
func LoadDir(dir string) (*Registry, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("load kinds: no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("load kinds: %w", formatCUEError(inst.Err))
	}
	ctx := cuecontext.New()
	return compile(ctx, ctx.BuildInstance(inst))
}

func compile(ctx *cue.Context, v cue.Value) (*Registry, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("kind schema: %w", err)
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	reg := NewRegistry()
	kindsVal := unified.LookupPath(cue.ParsePath("kind"))
	if !kindsVal.Exists() {
		return reg, nil
	}

	iter, err := kindsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		k, err := CompileKind(iter.Value())
		if err != nil {
			return nil, err
		}
		reg.kinds[k.Name] = k
	}
	return reg, nil
}

// CompileKind parses one kind struct. The kind's name is the struct's
// label.
func CompileKind(v cue.Value) (*model.Kind, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	k := &model.Kind{}
	if sels := v.Path().Selectors(); len(sels) > 0 {
		k.Name = sels[len(sels)-1].Unquoted()
	}
	if k.Name == "" {
		return nil, &CompileError{Field: "kind", Message: "kind name is required", Pos: v.Pos()}
	}

	if av := v.LookupPath(cue.ParsePath("autoSync")); av.Exists() {
		b, err := av.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		k.AutoSync = model.Bool(b)
	}

	if ov := v.LookupPath(cue.ParsePath("orderBy")); ov.Exists() {
		s, err := ov.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		k.OrderBy = s
	}

	if dv := v.LookupPath(cue.ParsePath("defaults")); dv.Exists() {
		var raw map[string]any
		if err := dv.Decode(&raw); err != nil {
			return nil, formatCUEError(err)
		}
		defaults, err := attr.NormalizeAttributes(raw)
		if err != nil {
			return nil, &CompileError{
				Field:   "kind." + k.Name + ".defaults",
				Message: err.Error(),
				Pos:     dv.Pos(),
			}
		}
		if defaults.Has(attr.IDKey) {
			return nil, &CompileError{
				Field:   "kind." + k.Name + ".defaults",
				Message: "id cannot have a default",
				Pos:     dv.Pos(),
			}
		}
		k.Defaults = defaults
	}

	return k, nil
}
