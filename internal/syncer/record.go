package syncer

import (
	"context"
	"log/slog"

	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/reconcile"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/session"
)

// RecordController keeps one record in step with one remote node.
type RecordController struct {
	node    remote.Node
	record  *model.Record
	mode    Mode
	guard   *EchoGuard
	session *session.Session // nil in ModeOnce
	logger  *slog.Logger

	// remoteAttrs is the last state known to be stored remotely; upstream
	// patches are diffed against it.
	remoteAttrs attr.Attributes
	destroying  bool

	subs   []remote.Subscription
	offs   []func()
	errors observers
}

// NewRecord binds record to node.
//
// In ModeContinuous the controller subscribes to the node's value and to
// the record's changes immediately. A nil node or record returns an
// INVALID_CONFIGURATION error and no controller.
func NewRecord(node remote.Node, record *model.Record, opts ...ControllerOption) (*RecordController, error) {
	if node == nil {
		return nil, NewConfigError("record controller requires a remote node")
	}
	if record == nil {
		return nil, NewConfigError("record controller requires a record")
	}

	cfg := newConfig(opts)
	c := &RecordController{
		node:   node,
		record: record,
		mode:   ResolveMode(cfg.autoSync, record.Kind()),
		guard:  NewEchoGuard(),
		logger: cfg.logger.With("path", node.Path()),
	}

	if c.mode == ModeContinuous {
		c.session = session.New(schedulerFunc(node))
		c.offs = append(c.offs,
			record.OnChange(c.onLocalChange),
			record.On(model.EventDestroy, c.onLocalDestroy),
		)
		c.subs = append(c.subs, node.SubscribeValue(c.onValue, c.onValueError))
	}

	c.logger.Debug("record controller bound", "mode", c.mode)
	return c, nil
}

// Mode returns the controller's mode.
func (c *RecordController) Mode() Mode { return c.mode }

// Node returns the bound node.
func (c *RecordController) Node() remote.Node { return c.node }

// Record returns the bound record.
func (c *RecordController) Record() *model.Record { return c.record }

// Guard returns the controller's echo guard.
func (c *RecordController) Guard() *EchoGuard { return c.guard }

// Session returns the initial-sync session, nil in ModeOnce.
func (c *RecordController) Session() *session.Session { return c.session }

// RemoteAttributes returns the last state known to be stored remotely.
func (c *RecordController) RemoteAttributes() attr.Attributes {
	return c.remoteAttrs.Clone()
}

// WaitSynced blocks until the initial remote value has been applied.
// Returns immediately in ModeOnce.
func (c *RecordController) WaitSynced(ctx context.Context) error {
	if c.session == nil {
		return nil
	}
	return c.session.Wait(ctx)
}

// OnError registers an observer for errors not tied to a caller's
// Options, such as failed automatic writes. Returns an unregister
// function.
func (c *RecordController) OnError(fn func(error)) func() {
	return c.errors.add(fn)
}

// report sends err to the record's error listeners and the observers.
func (c *RecordController) report(err error) {
	c.record.Trigger(model.EventError, model.OriginRemote, err)
	c.errors.notify(err)
}

// onValue applies a remote value. The first delivery resolves the session.
func (c *RecordController) onValue(snap remote.Snapshot) {
	first := !c.session.Resolved()

	d, err := reconcile.ApplyDownstream(c.record.Attributes(), snap)
	if err != nil {
		serr := NewIdentityError(c.node.Path(), err)
		c.logger.Error("invalid remote value", "error", err)
		if first {
			c.session.Resolve(serr)
		}
		c.report(serr)
		return
	}

	c.guard.Hold(c.record, func() {
		c.apply(d, model.FromRemote())
		if first {
			c.session.Resolve(nil)
			c.logger.Debug("initial sync resolved")
		}
	})
	c.record.Trigger(model.EventSync, model.OriginRemote, nil)

	if first {
		filled, err := c.record.ApplyDefaults()
		if err != nil {
			c.logger.Error("apply defaults failed", "error", err)
		} else if len(filled) > 0 {
			c.logger.Debug("defaults applied", "keys", filled)
		}
	}
}

// apply mirrors d onto the record and remembers the remote state. The id
// is taken from the snapshot only while the record has none.
func (c *RecordController) apply(d reconcile.Downstream, opts ...model.Option) {
	set := d.Attributes.Clone()
	if id := c.record.ID(); id != "" {
		set[attr.IDKey] = id
	}
	if err := c.record.Update(set, d.Unset, opts...); err != nil {
		c.logger.Error("apply remote value failed", "error", err)
		c.report(err)
		return
	}
	c.remoteAttrs = set
}

func (c *RecordController) onValueError(err error) {
	serr := NewRemoteError("subscribe", c.node.Path(), err)
	c.logger.Error("value subscription failed", "error", err)
	c.session.Resolve(serr)
	c.report(serr)
}

func (c *RecordController) onLocalChange(ev model.Event) {
	if !c.guard.ShouldSend(ev) {
		return
	}
	c.push(Options{})
}

func (c *RecordController) onLocalDestroy(ev model.Event) {
	if c.destroying || !c.guard.ShouldSend(ev) {
		return
	}
	c.remove(Options{})
}

// push writes local changes upstream. opts.Success fires even when there
// is nothing to write. The remote state moves forward when the write is
// issued, so a change made before the acknowledgement diffs against it.
func (c *RecordController) push(opts Options) {
	local := c.record.Attributes()
	w, ok := planUpstream(c.remoteAttrs, local)
	if !ok {
		post(c.node, func() { opts.succeed(local.Map()) })
		return
	}
	c.remoteAttrs = w.next
	w.send(c.node, func(err error) {
		if err != nil {
			c.remoteAttrs = w.revert(c.remoteAttrs)
			serr := NewRemoteError("write", c.node.Path(), err)
			c.logger.Error("upstream write failed", "error", err)
			c.failed(serr, opts)
			return
		}
		opts.succeed(local.Map())
	})
}

// failed delivers err to the caller's handler, or to observers when the
// caller supplied none.
func (c *RecordController) failed(err error, opts Options) {
	if opts.Error == nil {
		c.report(err)
	}
	opts.fail(err)
}

func (c *RecordController) remove(opts Options) {
	c.node.Write(nil, func(err error) {
		if err != nil {
			serr := NewRemoteError("delete", c.node.Path(), err)
			c.logger.Error("remote delete failed", "error", err)
			c.failed(serr, opts)
			return
		}
		c.remoteAttrs = nil
		opts.succeed(nil)
	})
}

// Fetch loads the record. In ModeOnce it reads the node once and applies
// the value; in ModeContinuous it waits for the initial sync.
func (c *RecordController) Fetch(opts Options) {
	if c.mode == ModeContinuous {
		c.session.Await(session.Handlers{
			OnSuccess: func() { opts.succeed(c.record.Map()) },
			OnError:   opts.fail,
		})
		return
	}

	opts.Parse = true
	c.read(opts)
}

func (c *RecordController) read(opts Options) {
	c.node.ReadOnce(func(snap remote.Snapshot) {
		if opts.Parse {
			if err := c.parse(snap, opts); err != nil {
				opts.fail(err)
				return
			}
		}
		opts.succeed(snap.Value())
	}, func(err error) {
		serr := NewRemoteError("read", c.node.Path(), err)
		c.logger.Error("remote read failed", "error", err)
		opts.fail(serr)
	})
}

func (c *RecordController) parse(snap remote.Snapshot, opts Options) error {
	d, err := reconcile.ApplyDownstream(c.record.Attributes(), snap)
	if err != nil {
		c.logger.Error("invalid remote value", "error", err)
		return NewIdentityError(c.node.Path(), err)
	}
	c.guard.Hold(c.record, func() {
		c.apply(d, opts.remoteOpts()...)
	})
	return nil
}

// Save writes the record. A record without an id takes the node's key. In
// ModeOnce the whole record is written destructively; in ModeContinuous
// only the diff against the last known remote state is sent.
func (c *RecordController) Save(opts Options) {
	if err := c.ensureID(); err != nil {
		post(c.node, func() { opts.fail(err) })
		return
	}

	if c.mode == ModeContinuous {
		c.push(opts)
		return
	}

	local := c.record.Attributes()
	writeFull(c.node, local, func(err error) {
		if err != nil {
			serr := NewRemoteError("write", c.node.Path(), err)
			c.logger.Error("remote write failed", "error", err)
			opts.fail(serr)
			return
		}
		c.remoteAttrs = local
		opts.succeed(local.Map())
	})
}

func (c *RecordController) ensureID() error {
	if !c.record.IsNew() {
		return nil
	}
	var err error
	c.guard.Hold(c.record, func() {
		err = c.record.Set(map[string]any{attr.IDKey: c.node.Key()})
	})
	return err
}

// Destroy deletes the remote node and then destroys the local record.
func (c *RecordController) Destroy(opts Options) {
	c.remove(Options{
		Success: func(any) {
			c.destroying = true
			c.record.Destroy()
			c.destroying = false
			opts.succeed(nil)
		},
		Error: func(err error) { opts.fail(err) },
	})
}

// Sync runs op against the bound node.
func (c *RecordController) Sync(op Operation, opts Options) error {
	return Sync(op, c, opts)
}

// Close stops all subscriptions. In-flight writes still complete.
func (c *RecordController) Close() {
	for _, s := range c.subs {
		s.Unsubscribe()
	}
	for _, off := range c.offs {
		off()
	}
	c.subs, c.offs = nil, nil
}

// target implementation

func (c *RecordController) serialize() any { return c.record.Map() }

func (c *RecordController) applyRead(snap remote.Snapshot, opts Options) error {
	return c.parse(snap, opts)
}

func (c *RecordController) loggerFor() *slog.Logger { return c.logger }
