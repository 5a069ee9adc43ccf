package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/remote"
)

// WriteResult describes a completed write.
type WriteResult struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

func (r WriteResult) String() string {
	path := r.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s %s", r.Op, path)
}

// SetOptions holds flags for the set command.
type SetOptions struct {
	*RootOptions
	Priority string
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set <path> <json>",
		Short: "Replace the value at a path",
		Long: `Destructively write a JSON value at path. Writing null deletes the path.

Examples:
  treesync set todos/k1 '{"title":"milk","done":false}'
  treesync set todos/k1 '{"title":"milk"}' --priority 3`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseValue(args[1])
			if err != nil {
				return err
			}
			if opts.Priority == "" {
				return runWrite(cmd, opts.RootOptions, remote.OpWrite, args[0], value, func(n remote.Node, done func(error)) {
					n.Write(value, done)
				})
			}
			priority, err := parseValue(opts.Priority)
			if err != nil {
				return err
			}
			return runWrite(cmd, opts.RootOptions, remote.OpWriteWithPriority, args[0], value, func(n remote.Node, done func(error)) {
				n.WriteWithPriority(value, priority, done)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority as JSON (number or string)")

	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <path> <json-object>",
		Short: "Merge keys into the value at a path",
		Long: `Patch the object at path: each key of the JSON object is written below
path and other keys are left alone. A null value deletes that key.

Examples:
  treesync update todos/k1 '{"done":true}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseObject(args[1])
			if err != nil {
				return err
			}
			return runWrite(cmd, rootOpts, remote.OpPatch, args[0], values, func(n remote.Node, done func(error)) {
				n.Patch(values, done)
			})
		},
	}
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rm <path>",
		Short:         "Delete a path and everything below it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, rootOpts, "delete", args[0], nil, func(n remote.Node, done func(error)) {
				n.Write(nil, done)
			})
		},
	}
}

// runWrite opens the tree, runs write against the node at path and waits
// for the store to acknowledge it.
func runWrite(cmd *cobra.Command, opts *RootOptions, op, path string, value any, write func(remote.Node, func(error))) error {
	ctx := commandContext(cmd)
	s, err := openTree(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	node, err := s.node(path)
	if err != nil {
		return err
	}
	if err := remote.Await(ctx, func(done func(error)) { write(node, done) }); err != nil {
		return WrapExitError(ExitFailure, op+" failed", err)
	}
	opts.Logger().Debug("write acknowledged", "op", op, "path", node.Path())

	return newFormatter(cmd, opts).Success(WriteResult{Op: op, Path: node.Path(), Value: value})
}
