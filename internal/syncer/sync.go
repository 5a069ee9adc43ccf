package syncer

import (
	"fmt"
	"log/slog"

	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/remote"
)

// Operation is a sync verb.
type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ParseOperation validates an operation name.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OpRead, OpCreate, OpUpdate, OpDelete:
		return op, nil
	}
	return "", NewConfigError(fmt.Sprintf("unknown sync operation %q", s))
}

// Target is a record or collection bound to a node.
// Implemented by *RecordController and *CollectionController.
type Target interface {
	Node() remote.Node

	serialize() any
	applyRead(snap remote.Snapshot, opts Options) error
	loggerFor() *slog.Logger
}

// Sync performs one remote operation for target:
//
//   - read: reads the node once; with Parse the value is applied to the
//     target. Success receives the raw value.
//   - create: destructively writes the serialized target.
//   - update: merges the serialized target into the node.
//   - delete: writes null.
//
// Only an unknown operation or a nil target returns an error; everything
// else is reported through opts.
func Sync(op Operation, target Target, opts Options) error {
	if target == nil || target.Node() == nil {
		return NewConfigError("sync requires a bound target")
	}
	if _, err := ParseOperation(string(op)); err != nil {
		return err
	}

	node := target.Node()
	logger := target.loggerFor()
	if opts.Wait {
		logger.Info("wait option ignored", "op", op)
	}

	remoteErr := func(what string) func(error) {
		return func(err error) {
			serr := NewRemoteError(what, node.Path(), err)
			logger.Error("sync failed", "op", op, "error", err)
			opts.fail(serr)
		}
	}

	switch op {
	case OpRead:
		node.ReadOnce(func(snap remote.Snapshot) {
			if opts.Parse {
				if err := target.applyRead(snap, opts); err != nil {
					opts.fail(err)
					return
				}
			}
			opts.succeed(snap.Value())
		}, remoteErr("read"))

	case OpCreate, OpUpdate:
		value := target.serialize()
		done := func(err error) {
			if err != nil {
				remoteErr(string(op))(err)
				return
			}
			opts.succeed(value)
		}
		m, isMap := value.(map[string]any)
		switch {
		case op == OpCreate && isMap:
			writeFull(node, attr.Attributes(m), done)
		case op == OpCreate:
			node.Write(value, done)
		case isMap && attr.Attributes(m).Has(attr.PriorityKey):
			// Priority cannot be patched.
			writeFull(node, attr.Attributes(m), done)
		case isMap:
			node.Patch(m, done)
		default:
			node.Write(value, done)
		}

	case OpDelete:
		node.Write(nil, func(err error) {
			if err != nil {
				remoteErr("delete")(err)
				return
			}
			opts.succeed(nil)
		})
	}
	return nil
}
