package model

import (
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/treesync/internal/attr"
)

// Collection is an ordered set of records keyed by id.
//
// Members are kept sorted when the kind declares an order, otherwise in
// insertion order. Member change events are re-emitted on the collection; a
// destroyed member is removed.
//
// Thread-safety: Collection is safe for concurrent use. Listeners run on
// the mutating goroutine.
type Collection struct {
	mu      sync.Mutex
	kind    *Kind
	members []*Record
	unbind  map[*Record]func()

	events emitter
}

// NewCollection creates an empty collection of records of kind k.
func NewCollection(k *Kind) *Collection {
	return &Collection{
		kind:   kindOrDefault(k),
		unbind: make(map[*Record]func()),
	}
}

// Kind returns the kind of the collection's members.
func (c *Collection) Kind() *Kind {
	return c.kind
}

// NewMember builds a record of the collection's kind without adding it.
func (c *Collection) NewMember(attrs map[string]any) (*Record, error) {
	return NewRecord(c.kind, attrs)
}

// Len returns the number of members.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

// Records returns the members in order.
func (c *Collection) Records() []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Record(nil), c.members...)
}

// IDs returns member ids in order.
func (c *Collection) IDs() []string {
	recs := c.Records()
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID()
	}
	return ids
}

// Get returns the member with the given id.
func (c *Collection) Get(id string) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return nil, false
	}
	return c.members[i], true
}

// Contains reports whether r is a member.
func (c *Collection) Contains(r *Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.unbind[r]
	return ok
}

func (c *Collection) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, m := range c.members {
		if m.ID() == id {
			return i
		}
	}
	return -1
}

// Add inserts records and emits one add event per inserted record.
// Records already present, by identity or by id, are skipped. Returns the
// records actually added.
func (c *Collection) Add(records []*Record, opts ...Option) []*Record {
	m := applyOptions(opts)

	c.mu.Lock()
	var added []*Record
	for _, r := range records {
		if r == nil {
			continue
		}
		if _, ok := c.unbind[r]; ok || c.indexLocked(r.ID()) >= 0 {
			continue
		}
		c.members = append(c.members, r)
		c.unbind[r] = c.bind(r)
		added = append(added, r)
	}
	c.sortLocked()
	c.mu.Unlock()

	if !m.silent {
		for _, r := range added {
			c.events.emit(Event{Type: EventAdd, Record: r, Origin: m.origin})
		}
	}
	return added
}

// AddAttributes builds a record from attrs and adds it.
func (c *Collection) AddAttributes(attrs map[string]any, opts ...Option) (*Record, error) {
	r, err := c.NewMember(attrs)
	if err != nil {
		return nil, err
	}
	if added := c.Add([]*Record{r}, opts...); len(added) == 0 {
		return nil, fmt.Errorf("add %q: already a member", r.ID())
	}
	return r, nil
}

// Remove deletes records and emits one remove event per removed record.
// Returns the records actually removed.
func (c *Collection) Remove(records []*Record, opts ...Option) []*Record {
	m := applyOptions(opts)

	c.mu.Lock()
	var removed []*Record
	for _, r := range records {
		if c.removeLocked(r) {
			removed = append(removed, r)
		}
	}
	c.mu.Unlock()

	if !m.silent {
		for _, r := range removed {
			c.events.emit(Event{Type: EventRemove, Record: r, Origin: m.origin})
		}
	}
	return removed
}

// RemoveID removes the member with the given id.
func (c *Collection) RemoveID(id string, opts ...Option) (*Record, bool) {
	r, ok := c.Get(id)
	if !ok {
		return nil, false
	}
	return r, len(c.Remove([]*Record{r}, opts...)) == 1
}

func (c *Collection) removeLocked(r *Record) bool {
	unbind, ok := c.unbind[r]
	if !ok {
		return false
	}
	unbind()
	delete(c.unbind, r)
	c.members = slices.DeleteFunc(c.members, func(m *Record) bool { return m == r })
	return true
}

// Reset replaces every member and emits a single reset event.
func (c *Collection) Reset(records []*Record, opts ...Option) {
	m := applyOptions(opts)

	c.mu.Lock()
	for r := range c.unbind {
		c.removeLocked(r)
	}
	for _, r := range records {
		if r == nil {
			continue
		}
		if _, ok := c.unbind[r]; ok || c.indexLocked(r.ID()) >= 0 {
			continue
		}
		c.members = append(c.members, r)
		c.unbind[r] = c.bind(r)
	}
	c.sortLocked()
	c.mu.Unlock()

	if !m.silent {
		c.events.emit(Event{Type: EventReset, Origin: m.origin})
	}
}

// Set merges a list of attribute sets into the collection: unknown ids are
// added, known ids are updated (attributes missing from the new set are
// unset), and members absent from the list are removed.
func (c *Collection) Set(items []attr.Attributes, opts ...Option) error {
	keep := make(map[*Record]bool, len(items))
	var toAdd []*Record

	for _, item := range items {
		id := item.ID()
		if existing, ok := c.Get(id); ok {
			var unset []string
			for _, k := range existing.Attributes().SortedKeys() {
				if !item.Has(k) && k != attr.IDKey {
					unset = append(unset, k)
				}
			}
			if err := existing.Update(item, unset, opts...); err != nil {
				return err
			}
			keep[existing] = true
			continue
		}
		r, err := c.NewMember(item)
		if err != nil {
			return err
		}
		keep[r] = true
		toAdd = append(toAdd, r)
	}

	var toRemove []*Record
	for _, r := range c.Records() {
		if !keep[r] {
			toRemove = append(toRemove, r)
		}
	}

	c.Remove(toRemove, opts...)
	c.Add(toAdd, opts...)
	return nil
}

// Sort reorders members by the kind's comparator.
func (c *Collection) Sort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sortLocked()
}

func (c *Collection) sortLocked() {
	if c.kind.Sorted() {
		slices.SortStableFunc(c.members, c.kind.Compare)
	}
}

// bind forwards member events to the collection.
func (c *Collection) bind(r *Record) func() {
	offChange := r.On(EventChange, func(ev Event) {
		if c.kind.Sorted() {
			c.Sort()
		}
		c.events.emit(ev)
	})
	offDestroy := r.On(EventDestroy, func(ev Event) {
		c.Remove([]*Record{r}, WithOrigin(ev.Origin))
	})
	return func() {
		offChange()
		offDestroy()
	}
}

// On registers fn for events of type t and returns a function that
// unregisters it.
func (c *Collection) On(t EventType, fn func(Event)) func() {
	return c.events.on(t, fn)
}

// Trigger emits a sync or error event on behalf of a controller. r may be
// nil for collection-level events.
func (c *Collection) Trigger(t EventType, r *Record, origin Origin, err error) {
	c.events.emit(Event{Type: t, Record: r, Origin: origin, Err: err})
}
