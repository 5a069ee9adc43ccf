package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/reconcile"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/session"
)

// CollectionController keeps a collection in step with the children of a
// remote node. Each member lives at <node>/<id>.
type CollectionController struct {
	node    remote.Node
	coll    *model.Collection
	mode    Mode
	guard   *EchoGuard
	session *session.Session // nil in ModeOnce
	logger  *slog.Logger

	// remoteAttrs holds the last state known to be stored remotely for
	// each member id.
	remoteAttrs map[string]attr.Attributes

	// While a reset's writes are in flight, remote child events are
	// buffered and replayed once every write has been acknowledged.
	resetPending  int
	buffered      []func()
	emittingReset bool

	subs   []remote.Subscription
	offs   []func()
	errors observers
}

// NewCollection binds coll to the children of node.
//
// In ModeContinuous the controller subscribes to child events, then to the
// node's value to resolve the session once the initial children have been
// delivered. A nil node or collection returns an INVALID_CONFIGURATION
// error and no controller.
func NewCollection(node remote.Node, coll *model.Collection, opts ...ControllerOption) (*CollectionController, error) {
	if node == nil {
		return nil, NewConfigError("collection controller requires a remote node")
	}
	if coll == nil {
		return nil, NewConfigError("collection controller requires a collection")
	}

	cfg := newConfig(opts)
	c := &CollectionController{
		node:        node,
		coll:        coll,
		mode:        ResolveMode(cfg.autoSync, coll.Kind()),
		guard:       NewEchoGuard(),
		logger:      cfg.logger.With("path", node.Path()),
		remoteAttrs: make(map[string]attr.Attributes),
	}

	if c.mode == ModeContinuous {
		c.session = session.New(schedulerFunc(node))
		c.offs = append(c.offs,
			coll.On(model.EventAdd, c.onLocalAdd),
			coll.On(model.EventRemove, c.onLocalRemove),
			coll.On(model.EventChange, c.onLocalChange),
			coll.On(model.EventReset, c.onLocalReset),
		)
		c.subscribe()
	}

	c.logger.Debug("collection controller bound", "mode", c.mode)
	return c, nil
}

func (c *CollectionController) subscribe() {
	handlers := map[remote.ChildEvent]func(remote.Snapshot){
		remote.ChildAdded:   c.onChildAdded,
		remote.ChildMoved:   c.onChildMoved,
		remote.ChildChanged: c.onChildChanged,
		remote.ChildRemoved: c.onChildRemoved,
	}
	for _, ev := range remote.ChildEvents {
		handle := handlers[ev]
		c.subs = append(c.subs, c.node.SubscribeChild(ev, func(snap remote.Snapshot) {
			c.dispatch(func() { handle(snap) })
		}))
	}

	// Only the first value delivery matters; members are maintained from
	// child events.
	var valueSub remote.Subscription
	valueSub = c.node.SubscribeValue(func(remote.Snapshot) {
		if !c.session.Resolve(nil) {
			return
		}
		valueSub.Unsubscribe()
		c.logger.Debug("initial sync resolved", "members", c.coll.Len())
		c.coll.Trigger(model.EventSync, nil, model.OriginRemote, nil)
	}, func(err error) {
		serr := NewRemoteError("subscribe", c.node.Path(), err)
		c.logger.Error("value subscription failed", "error", err)
		c.session.Resolve(serr)
		c.report(serr)
	})
	c.subs = append(c.subs, valueSub)
}

// dispatch runs fn now, or buffers it while a reset is in flight.
func (c *CollectionController) dispatch(fn func()) {
	if c.resetPending > 0 {
		c.buffered = append(c.buffered, fn)
		return
	}
	fn()
}

// Mode returns the controller's mode.
func (c *CollectionController) Mode() Mode { return c.mode }

// Node returns the bound node.
func (c *CollectionController) Node() remote.Node { return c.node }

// Collection returns the bound collection.
func (c *CollectionController) Collection() *model.Collection { return c.coll }

// Guard returns the controller's echo guard.
func (c *CollectionController) Guard() *EchoGuard { return c.guard }

// Session returns the initial-sync session, nil in ModeOnce.
func (c *CollectionController) Session() *session.Session { return c.session }

// RemoteAttributes returns the last state known to be stored remotely for
// member id.
func (c *CollectionController) RemoteAttributes(id string) (attr.Attributes, bool) {
	a, ok := c.remoteAttrs[id]
	return a.Clone(), ok
}

// WaitSynced blocks until the initial children have been applied.
// Returns immediately in ModeOnce.
func (c *CollectionController) WaitSynced(ctx context.Context) error {
	if c.session == nil {
		return nil
	}
	return c.session.Wait(ctx)
}

// OnError registers an observer for errors not tied to a caller's
// Options. Returns an unregister function.
func (c *CollectionController) OnError(fn func(error)) func() {
	return c.errors.add(fn)
}

func (c *CollectionController) report(err error) {
	c.coll.Trigger(model.EventError, nil, model.OriginRemote, err)
	c.errors.notify(err)
}

func (c *CollectionController) failed(err error, opts Options) {
	if opts.Error == nil {
		c.report(err)
	}
	opts.fail(err)
}

// Remote to local

func (c *CollectionController) onChildAdded(snap remote.Snapshot) {
	id := snap.Key()
	d, err := reconcile.ApplyDownstream(nil, snap)
	if err != nil {
		c.logger.Error("invalid remote member", "id", id, "error", err)
		c.report(NewIdentityError(c.node.Child(id).Path(), err))
		return
	}
	suppressed := c.guard.Consume(remote.ChildAdded, id)
	c.remoteAttrs[id] = d.Attributes

	if _, ok := c.coll.Get(id); ok {
		return
	}
	r, err := c.coll.NewMember(d.Attributes)
	if err != nil {
		c.logger.Error("build member failed", "id", id, "error", err)
		c.report(err)
		return
	}
	opts := []model.Option{model.FromRemote()}
	if suppressed {
		opts = append(opts, model.Silent())
	}
	c.coll.Add([]*model.Record{r}, opts...)
}

func (c *CollectionController) onChildChanged(snap remote.Snapshot) {
	id := snap.Key()
	r, ok := c.coll.Get(id)
	if !ok {
		c.logger.Warn("change for unknown member treated as add",
			"id", id, "code", ErrCodeReconciliationAmbiguity)
		c.onChildAdded(snap)
		return
	}

	d, err := reconcile.ApplyDownstream(r.Attributes(), snap)
	if err != nil {
		c.logger.Error("invalid remote member", "id", id, "error", err)
		c.report(NewIdentityError(c.node.Child(id).Path(), err))
		return
	}

	c.guard.Hold(r, func() {
		if err := r.Update(d.Attributes, d.Unset, model.FromRemote()); err != nil {
			c.logger.Error("apply remote member failed", "id", id, "error", err)
			c.report(err)
			return
		}
		c.remoteAttrs[id] = d.Attributes
		c.coll.Trigger(model.EventSync, r, model.OriginRemote, nil)
	})
}

func (c *CollectionController) onChildRemoved(snap remote.Snapshot) {
	id := snap.Key()
	delete(c.remoteAttrs, id)

	if c.guard.Consume(remote.ChildRemoved, id) {
		c.coll.RemoveID(id, model.FromRemote(), model.Silent())
		return
	}
	r, ok := c.coll.Get(id)
	if !ok {
		return
	}
	c.coll.Trigger(model.EventSync, r, model.OriginRemote, nil)
	c.coll.Remove([]*model.Record{r}, model.FromRemote())
}

func (c *CollectionController) onChildMoved(snap remote.Snapshot) {
	c.logger.Debug("child moved ignored", "id", snap.Key(), "priority", snap.Priority())
}

// Local to remote

func (c *CollectionController) onLocalAdd(ev model.Event) {
	if !c.guard.ShouldSend(ev) {
		return
	}
	r := ev.Record
	if err := c.ensureID(r); err != nil {
		c.logger.Error("assign member id failed", "error", err)
		c.report(err)
		return
	}
	c.writeMember(r, Options{})
}

func (c *CollectionController) onLocalRemove(ev model.Event) {
	if !c.guard.ShouldSend(ev) {
		return
	}
	if id := ev.Record.ID(); id != "" {
		c.deleteMember(id, Options{})
	}
}

func (c *CollectionController) onLocalChange(ev model.Event) {
	if !c.guard.ShouldSend(ev) {
		return
	}
	c.pushMember(ev.Record, Options{})
}

func (c *CollectionController) onLocalReset(ev model.Event) {
	if c.emittingReset || !c.guard.ShouldSend(ev) {
		return
	}
	c.resetRemote(c.coll.Records(), false, Options{})
}

// ensureID assigns a generated key to a member without one.
func (c *CollectionController) ensureID(r *model.Record) error {
	if !r.IsNew() {
		return nil
	}
	var err error
	c.guard.Hold(r, func() {
		err = r.Set(map[string]any{attr.IDKey: c.node.GenerateKey()})
	})
	return err
}

// writeMember destructively writes r at <node>/<id>.
func (c *CollectionController) writeMember(r *model.Record, opts Options) {
	id := r.ID()
	child := c.node.Child(id)
	local := r.Attributes()
	writeFull(child, local, func(err error) {
		if err != nil {
			serr := NewRemoteError("write", child.Path(), err)
			c.logger.Error("member write failed", "id", id, "error", err)
			c.failed(serr, opts)
			return
		}
		c.remoteAttrs[id] = local
		opts.succeed(local.Map())
	})
}

// pushMember sends r's diff against its last known remote state, which
// moves forward as soon as the write is issued.
func (c *CollectionController) pushMember(r *model.Record, opts Options) {
	id := r.ID()
	if id == "" {
		post(c.node, func() { opts.fail(NewConfigError("member has no id")) })
		return
	}
	child := c.node.Child(id)
	local := r.Attributes()
	w, ok := planUpstream(c.remoteAttrs[id], local)
	if !ok {
		post(c.node, func() { opts.succeed(local.Map()) })
		return
	}
	c.remoteAttrs[id] = w.next
	w.send(child, func(err error) {
		if err != nil {
			if known, ok := c.remoteAttrs[id]; ok {
				c.remoteAttrs[id] = w.revert(known)
			}
			serr := NewRemoteError("write", child.Path(), err)
			c.logger.Error("member write failed", "id", id, "error", err)
			c.failed(serr, opts)
			return
		}
		opts.succeed(local.Map())
	})
}

func (c *CollectionController) deleteMember(id string, opts Options) {
	child := c.node.Child(id)
	child.Write(nil, func(err error) {
		if err != nil {
			serr := NewRemoteError("delete", child.Path(), err)
			c.logger.Error("member delete failed", "id", id, "error", err)
			c.failed(serr, opts)
			return
		}
		delete(c.remoteAttrs, id)
		opts.succeed(nil)
	})
}

// Operations

// Add assigns ids to records lacking one and adds them to the collection.
// In ModeContinuous each added member is then written at <node>/<id>; in
// ModeOnce nothing is written.
func (c *CollectionController) Add(records []*model.Record) error {
	for _, r := range records {
		if err := c.ensureID(r); err != nil {
			return err
		}
	}
	c.coll.Add(records)
	return nil
}

// Create adds records and writes each one at <node>/<id>, in either mode.
// opts fire once per record.
func (c *CollectionController) Create(records []*model.Record, opts Options) error {
	for _, r := range records {
		if err := c.ensureID(r); err != nil {
			return err
		}
	}
	for _, r := range records {
		r := r
		c.guard.Hold(r, func() { c.coll.Add([]*model.Record{r}) })
		c.writeMember(r, opts)
	}
	return nil
}

// CreateAttributes builds a member from attrs and creates it.
func (c *CollectionController) CreateAttributes(attrs map[string]any, opts Options) (*model.Record, error) {
	r, err := c.coll.NewMember(attrs)
	if err != nil {
		return nil, err
	}
	if err := c.Create([]*model.Record{r}, opts); err != nil {
		return nil, err
	}
	return r, nil
}

// SaveMember writes a member. ModeOnce writes it destructively;
// ModeContinuous sends its diff.
func (c *CollectionController) SaveMember(r *model.Record, opts Options) {
	if c.mode == ModeOnce {
		if err := c.ensureID(r); err != nil {
			post(c.node, func() { opts.fail(err) })
			return
		}
		c.writeMember(r, opts)
		return
	}
	c.pushMember(r, opts)
}

// DestroyMember deletes a member remotely and removes it locally.
func (c *CollectionController) DestroyMember(r *model.Record, opts Options) {
	id := r.ID()
	if id == "" {
		c.guard.Hold(r, func() { c.coll.Remove([]*model.Record{r}) })
		post(c.node, func() { opts.succeed(nil) })
		return
	}
	c.guard.Hold(r, func() { c.coll.Remove([]*model.Record{r}) })
	c.deleteMember(id, opts)
}

// Remove removes members locally. In ModeContinuous each one is deleted
// remotely.
func (c *CollectionController) Remove(records []*model.Record) {
	c.coll.Remove(records)
}

// Reset replaces every member. In ModeContinuous the remote children are
// rewritten to match: members that disappear are deleted, the rest are
// written. Remote child events arriving before every write has been
// acknowledged are held back and replayed afterwards; the collection's
// reset event fires last. In ModeOnce only the local collection changes.
func (c *CollectionController) Reset(records []*model.Record, opts Options) error {
	for _, r := range records {
		if err := c.ensureID(r); err != nil {
			return err
		}
	}
	if c.mode == ModeOnce {
		c.coll.Reset(records)
		post(c.node, func() { opts.succeed(nil) })
		return nil
	}

	c.coll.Reset(records, model.Silent())
	c.resetRemote(records, true, opts)
	return nil
}

// resetRemote makes the remote children match records. Members that are
// no longer present are deleted and every member is written.
func (c *CollectionController) resetRemote(records []*model.Record, emit bool, opts Options) {
	keep := make(map[string]bool, len(records))
	for _, r := range records {
		if err := c.ensureID(r); err != nil {
			c.report(err)
			continue
		}
		keep[r.ID()] = true
	}

	var writes []func(done func(error))
	for _, id := range attr.SortedKeys(c.remoteAttrs) {
		if keep[id] {
			continue
		}
		id := id
		c.guard.Suppress(remote.ChildRemoved, id)
		writes = append(writes, func(done func(error)) {
			c.deleteMember(id, Options{
				Success: func(any) { done(nil) },
				Error: func(err error) {
					c.guard.Unsuppress(remote.ChildRemoved, id)
					done(err)
				},
			})
		})
	}
	for _, r := range records {
		r, id := r, r.ID()
		if id == "" {
			continue
		}
		_, known := c.remoteAttrs[id]
		if !known {
			c.guard.Suppress(remote.ChildAdded, id)
		}
		writes = append(writes, func(done func(error)) {
			c.writeMember(r, Options{
				Success: func(any) { done(nil) },
				Error: func(err error) {
					if !known {
						c.guard.Unsuppress(remote.ChildAdded, id)
					}
					done(err)
				},
			})
		})
	}

	// One extra slot is released on the loop after every write has been
	// issued, so a reset with no writes still completes asynchronously.
	remaining := len(writes) + 1
	var firstErr error
	c.resetPending++
	done := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if remaining--; remaining > 0 {
			return
		}
		c.resetPending--
		c.flush()
		if emit {
			c.emittingReset = true
			c.coll.Trigger(model.EventReset, nil, model.OriginLocal, nil)
			c.emittingReset = false
		}
		c.logger.Debug("reset complete", "members", c.coll.Len(), "writes", len(writes), "error", firstErr)
		if firstErr != nil {
			c.failed(firstErr, opts)
			return
		}
		opts.succeed(nil)
	}

	for _, w := range writes {
		w(done)
	}
	post(c.node, func() { done(nil) })
}

// flush replays buffered child events and drops expectations no event
// consumed.
func (c *CollectionController) flush() {
	for len(c.buffered) > 0 && c.resetPending == 0 {
		fn := c.buffered[0]
		c.buffered = c.buffered[1:]
		fn()
	}
	if n := c.guard.Pending(); n > 0 && c.resetPending == 0 {
		c.logger.Debug("dropping unmatched echo expectations", "count", n)
		c.guard.Reset()
	}
}

// Fetch loads the members. In ModeOnce it reads the node once and either
// resets (opts.Reset) or merges the collection; in ModeContinuous it waits
// for the initial sync.
func (c *CollectionController) Fetch(opts Options) {
	if c.mode == ModeContinuous {
		c.session.Await(session.Handlers{
			OnSuccess: func() { opts.succeed(c.serialize()) },
			OnError:   opts.fail,
		})
		return
	}
	opts.Parse = true
	if err := Sync(OpRead, c, opts); err != nil {
		c.logger.Error("fetch failed", "error", err)
	}
}

// Sync runs op against the bound node.
func (c *CollectionController) Sync(op Operation, opts Options) error {
	return Sync(op, c, opts)
}

// Close stops all subscriptions. In-flight writes still complete.
func (c *CollectionController) Close() {
	for _, s := range c.subs {
		s.Unsubscribe()
	}
	for _, off := range c.offs {
		off()
	}
	c.subs, c.offs = nil, nil
}

// target implementation

func (c *CollectionController) serialize() any {
	out := make(map[string]any, c.coll.Len())
	for _, r := range c.coll.Records() {
		if id := r.ID(); id != "" {
			out[id] = r.Map()
		}
	}
	return out
}

// applyRead converts the children of snap, in store order, into members.
func (c *CollectionController) applyRead(snap remote.Snapshot, opts Options) error {
	children := snap.Children()
	items := make([]attr.Attributes, 0, len(children))
	for _, child := range children {
		d, err := reconcile.ApplyDownstream(nil, child)
		if err != nil {
			c.logger.Error("invalid remote member", "id", child.Key(), "error", err)
			return NewIdentityError(c.node.Child(child.Key()).Path(), err)
		}
		items = append(items, d.Attributes)
	}

	if opts.Reset {
		records := make([]*model.Record, 0, len(items))
		for _, item := range items {
			r, err := c.coll.NewMember(item)
			if err != nil {
				return fmt.Errorf("build member %q: %w", item.ID(), err)
			}
			records = append(records, r)
		}
		c.coll.Reset(records, opts.remoteOpts()...)
	} else if err := c.coll.Set(items, opts.remoteOpts()...); err != nil {
		return err
	}

	for _, item := range items {
		c.remoteAttrs[item.ID()] = item
	}
	return nil
}

func (c *CollectionController) loggerFor() *slog.Logger { return c.logger }
