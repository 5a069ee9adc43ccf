package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/remote"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Concurrency int
}

// GetResult is the value at one path.
type GetResult struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// GetResults prints one "path<TAB>value" line per result in text mode.
type GetResults []GetResult

func (r GetResults) String() string {
	var b strings.Builder
	for i, res := range r {
		if i > 0 {
			b.WriteByte('\n')
		}
		value, err := attr.MarshalCanonical(res.Value)
		if err != nil {
			value = []byte(fmt.Sprintf("%v", res.Value))
		}
		path := res.Path
		if path == "" {
			path = "/"
		}
		fmt.Fprintf(&b, "%s\t%s", path, value)
	}
	return b.String()
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <path>...",
		Short: "Read values from the tree",
		Long: `Read the value at each path. Paths are read in parallel; results are
printed in argument order. A missing path prints null.

Examples:
  treesync get todos
  treesync get todos/k1 todos/k2 --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, opts, args)
		},
	}

	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 4, "maximum parallel reads")

	return cmd
}

func runGet(cmd *cobra.Command, opts *GetOptions, paths []string) error {
	if opts.Concurrency < 1 {
		return NewExitError(ExitCommandError, "concurrency must be at least 1")
	}

	ctx := commandContext(cmd)
	s, err := openTree(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	nodes := make([]remote.Node, len(paths))
	for i, path := range paths {
		if nodes[i], err = s.node(path); err != nil {
			return err
		}
	}

	results := make(GetResults, len(paths))
	p := pool.New().WithMaxGoroutines(opts.Concurrency).WithContext(ctx).WithCancelOnError()
	for i, node := range nodes {
		p.Go(func(ctx context.Context) error {
			snap, err := remote.Read(ctx, node)
			if err != nil {
				return fmt.Errorf("read %s: %w", node.Path(), err)
			}
			results[i] = GetResult{Path: node.Path(), Value: snap.Value()}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return WrapExitError(ExitFailure, "get failed", err)
	}

	return newFormatter(cmd, opts.RootOptions).Success(results)
}
