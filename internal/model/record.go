package model

import (
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/treesync/internal/attr"
)

var (
	// ErrIDReassigned is returned when a mutation would change or remove a
	// record's id once assigned.
	ErrIDReassigned = errors.New("model: record id cannot be reassigned")

	// ErrInvalidID is returned for ids that are not non-empty strings.
	ErrInvalidID = errors.New("model: record id must be a non-empty string")
)

// Record is a mapping of attribute names to values with a stable id.
//
// Thread-safety: Record is safe for concurrent use. Listeners run on the
// goroutine that performed the mutation, after the record's lock is
// released.
type Record struct {
	mu        sync.Mutex
	kind      *Kind
	attrs     attr.Attributes
	destroyed bool

	events emitter
}

// NewRecord creates a record of kind k (DefaultKind if nil) holding attrs.
func NewRecord(k *Kind, attrs map[string]any) (*Record, error) {
	norm, err := attr.NormalizeAttributes(attrs)
	if err != nil {
		return nil, fmt.Errorf("new record: %w", err)
	}
	if norm == nil {
		norm = attr.Attributes{}
	}
	if v, ok := norm[attr.IDKey]; ok {
		if err := validateID(v); err != nil {
			return nil, fmt.Errorf("new record: %w", err)
		}
	}
	return &Record{kind: kindOrDefault(k), attrs: norm}, nil
}

func validateID(v any) error {
	s, ok := v.(string)
	if !ok || s == "" {
		return fmt.Errorf("%w: got %v", ErrInvalidID, v)
	}
	return nil
}

// Kind returns the record's kind.
func (r *Record) Kind() *Kind {
	return r.kind
}

// ID returns the record's id, "" if not yet assigned.
func (r *Record) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attrs.ID()
}

// IsNew reports whether the record has no id yet.
func (r *Record) IsNew() bool {
	return r.ID() == ""
}

// Get returns the value of one attribute.
func (r *Record) Get(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.attrs[key]
	return attr.Clone(v), ok
}

// Attributes returns a copy of every attribute.
func (r *Record) Attributes() attr.Attributes {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attrs.Clone()
}

// Map serializes the record to a plain mapping.
func (r *Record) Map() map[string]any {
	return r.Attributes().Map()
}

// Set assigns attributes.
func (r *Record) Set(values map[string]any, opts ...Option) error {
	return r.Update(values, nil, opts...)
}

// Unset removes attributes.
func (r *Record) Unset(keys []string, opts ...Option) error {
	return r.Update(nil, keys, opts...)
}

// Update removes unset keys and assigns set values in one mutation,
// emitting at most one change event.
func (r *Record) Update(set map[string]any, unset []string, opts ...Option) error {
	m := applyOptions(opts)

	norm, err := attr.NormalizeAttributes(set)
	if err != nil {
		return fmt.Errorf("update %s: %w", r.label(), err)
	}

	r.mu.Lock()
	current := r.attrs.ID()
	if v, ok := norm[attr.IDKey]; ok {
		if err := validateID(v); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("update %s: %w", r.label(), err)
		}
		if current != "" && v != current {
			r.mu.Unlock()
			return fmt.Errorf("update %s: %w", r.label(), ErrIDReassigned)
		}
	}
	for _, k := range unset {
		if k == attr.IDKey && current != "" {
			if _, reset := norm[attr.IDKey]; !reset {
				r.mu.Unlock()
				return fmt.Errorf("update %s: %w", r.label(), ErrIDReassigned)
			}
		}
	}

	changed := make(map[string]bool)
	for _, k := range unset {
		if _, ok := r.attrs[k]; ok {
			delete(r.attrs, k)
			changed[k] = true
		}
	}
	for k, v := range norm {
		old, ok := r.attrs[k]
		if !ok || !attr.Equal(old, v) {
			changed[k] = true
		}
		r.attrs[k] = v
	}
	r.mu.Unlock()

	if len(changed) == 0 || m.silent {
		return nil
	}
	r.events.emit(Event{
		Type:    EventChange,
		Record:  r,
		Changed: attr.SortedKeys(changed),
		Origin:  m.origin,
	})
	return nil
}

// ApplyDefaults sets every kind default the record lacks. Returns the keys
// that were filled.
func (r *Record) ApplyDefaults(opts ...Option) ([]string, error) {
	if len(r.kind.Defaults) == 0 {
		return nil, nil
	}
	missing := make(map[string]any)
	r.mu.Lock()
	for k, v := range r.kind.Defaults {
		if k == attr.IDKey {
			continue
		}
		if _, ok := r.attrs[k]; !ok {
			missing[k] = attr.Clone(v)
		}
	}
	r.mu.Unlock()

	if len(missing) == 0 {
		return nil, nil
	}
	if err := r.Set(missing, opts...); err != nil {
		return nil, err
	}
	return attr.SortedKeys(missing), nil
}

// Destroy marks the record destroyed and emits a destroy event. Collections
// holding the record remove it. Destroying twice is a no-op.
func (r *Record) Destroy(opts ...Option) {
	m := applyOptions(opts)

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.mu.Unlock()

	if !m.silent {
		r.events.emit(Event{Type: EventDestroy, Record: r, Origin: m.origin})
	}
}

// Destroyed reports whether Destroy was called.
func (r *Record) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// On registers fn for events of type t and returns a function that
// unregisters it.
func (r *Record) On(t EventType, fn func(Event)) func() {
	return r.events.on(t, fn)
}

// OnChange registers fn for change events.
func (r *Record) OnChange(fn func(Event)) func() {
	return r.On(EventChange, fn)
}

// Trigger emits a sync or error event on behalf of a controller.
func (r *Record) Trigger(t EventType, origin Origin, err error) {
	r.events.emit(Event{Type: t, Record: r, Origin: origin, Err: err})
}

func (r *Record) label() string {
	if id := r.ID(); id != "" {
		return fmt.Sprintf("%s %q", r.kind.Name, id)
	}
	return "new " + r.kind.Name
}
