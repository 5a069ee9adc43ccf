package model

import (
	"sync"
)

// Origin says who caused a mutation.
type Origin int

const (
	// OriginLocal marks changes made by the application.
	OriginLocal Origin = iota
	// OriginRemote marks changes applied from remote snapshots.
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// EventType names a record or collection notification.
type EventType string

const (
	EventChange  EventType = "change"
	EventDestroy EventType = "destroy"
	EventAdd     EventType = "add"
	EventRemove  EventType = "remove"
	EventReset   EventType = "reset"
	EventSync    EventType = "sync"
	EventError   EventType = "error"
)

// Event is delivered to listeners.
type Event struct {
	Type   EventType
	Record *Record // nil for collection-level reset and error events

	// Changed lists the keys a change event set or removed, sorted.
	Changed []string

	Origin Origin
	Err    error // error events only
}

type listener struct {
	id int
	fn func(Event)
}

// emitter dispatches events to listeners in registration order.
type emitter struct {
	mu       sync.Mutex
	next     int
	handlers map[EventType][]listener
}

func (e *emitter) on(t EventType, fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handlers == nil {
		e.handlers = make(map[EventType][]listener)
	}
	e.next++
	id := e.next
	e.handlers[t] = append(e.handlers[t], listener{id: id, fn: fn})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		ls := e.handlers[t]
		for i, l := range ls {
			if l.id == id {
				e.handlers[t] = append(ls[:i:i], ls[i+1:]...)
				return
			}
		}
	}
}

// emit calls a snapshot of the listeners so handlers may register or
// unregister listeners while running.
func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	ls := append([]listener(nil), e.handlers[ev.Type]...)
	e.mu.Unlock()

	for _, l := range ls {
		l.fn(ev)
	}
}

// Option modifies a single mutation.
type Option func(*mutation)

type mutation struct {
	origin Origin
	silent bool
}

// FromRemote marks the mutation as applied from remote data.
func FromRemote() Option {
	return func(m *mutation) { m.origin = OriginRemote }
}

// WithOrigin sets the mutation's origin.
func WithOrigin(o Origin) Option {
	return func(m *mutation) { m.origin = o }
}

// Silent suppresses the events the mutation would emit.
func Silent() Option {
	return func(m *mutation) { m.silent = true }
}

func applyOptions(opts []Option) mutation {
	var m mutation
	for _, opt := range opts {
		opt(&m)
	}
	return m
}
