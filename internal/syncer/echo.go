package syncer

import (
	"sync"

	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/remote"
)

// EchoGuard decides which local mutations are echoes of remote or
// controller activity and must not be written upstream, and which remote
// child events are echoes of the controller's own bulk writes.
type EchoGuard struct {
	mu       sync.Mutex
	applying map[*model.Record]int
	suppress map[echoKey]int
}

type echoKey struct {
	event remote.ChildEvent
	id    string
}

// NewEchoGuard creates an empty guard.
func NewEchoGuard() *EchoGuard {
	return &EchoGuard{
		applying: make(map[*model.Record]int),
		suppress: make(map[echoKey]int),
	}
}

// Hold runs fn with r marked as applying: change events r emits meanwhile
// are not sent upstream. Holds nest.
func (g *EchoGuard) Hold(r *model.Record, fn func()) {
	g.mu.Lock()
	g.applying[r]++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.applying[r]--; g.applying[r] <= 0 {
			delete(g.applying, r)
		}
	}()

	fn()
}

// Applying reports whether r is inside Hold.
func (g *EchoGuard) Applying(r *model.Record) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.applying[r] > 0
}

// ShouldSend reports whether a local event must be written upstream.
func (g *EchoGuard) ShouldSend(ev model.Event) bool {
	if ev.Origin != model.OriginLocal {
		return false
	}
	return ev.Record == nil || !g.Applying(ev.Record)
}

// Suppress expects one remote event for id caused by the controller's own
// write.
func (g *EchoGuard) Suppress(event remote.ChildEvent, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suppress[echoKey{event, id}]++
}

// Unsuppress withdraws one expectation, e.g. after the write failed.
func (g *EchoGuard) Unsuppress(event remote.ChildEvent, id string) {
	g.consume(event, id)
}

// Consume reports whether the event was expected, using up the
// expectation.
func (g *EchoGuard) Consume(event remote.ChildEvent, id string) bool {
	return g.consume(event, id)
}

func (g *EchoGuard) consume(event remote.ChildEvent, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := echoKey{event, id}
	if g.suppress[k] == 0 {
		return false
	}
	if g.suppress[k]--; g.suppress[k] == 0 {
		delete(g.suppress, k)
	}
	return true
}

// Pending returns the number of outstanding expectations.
func (g *EchoGuard) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.suppress {
		n += c
	}
	return n
}

// Reset drops every outstanding expectation. Holds are unaffected.
func (g *EchoGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suppress = make(map[echoKey]int)
}
