package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/remote/memtree"
	"github.com/roach88/treesync/internal/store"
)

// treeSession is a tree loaded from the configured database, with its
// delivery loop running on a background goroutine.
type treeSession struct {
	tree   *memtree.Tree
	store  *store.Store
	wg     conc.WaitGroup
	cancel context.CancelFunc
}

// openTree opens the database and starts the delivery loop. Callers must
// Close the session.
func openTree(ctx context.Context, opts *RootOptions) (*treeSession, error) {
	if opts.DB == "" {
		return nil, NewExitError(ExitCommandError, "no database configured (use --db or TREESYNC_DB)")
	}
	keys, ok := remote.KeyGeneratorFor(opts.KeyFormat)
	if !ok {
		return nil, NewExitError(ExitCommandError, "invalid key format: "+opts.KeyFormat)
	}
	if err := os.MkdirAll(filepath.Dir(opts.DB), 0755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create database directory", err)
	}

	st, err := store.Open(opts.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	tree, err := memtree.New(
		memtree.WithPersister(st),
		memtree.WithKeyGenerator(keys),
		memtree.WithLogger(opts.Logger()),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load tree", err)
	}

	s := &treeSession{tree: tree, store: st}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Go(func() {
		if err := tree.Run(ctx); err != nil {
			opts.Logger().Debug("tree loop ended", "error", err)
		}
	})
	opts.Logger().Debug("tree opened", "db", opts.DB, "key_format", opts.KeyFormat)
	return s, nil
}

// node returns the node at path.
func (s *treeSession) node(path string) (remote.Node, error) {
	n, err := s.tree.Ref(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid path "+path, err)
	}
	return n, nil
}

// onLoop runs fn on the delivery loop and waits until it calls done.
// Controllers are only touched from the loop.
func (s *treeSession) onLoop(ctx context.Context, fn func(done func(error))) error {
	return remote.Await(ctx, func(done func(error)) {
		s.tree.Post(func() { fn(done) })
	})
}

// Close stops the loop after pending deliveries and closes the database.
// A panic on the loop is re-raised here.
func (s *treeSession) Close() error {
	s.tree.Stop()
	s.wg.Wait()
	s.cancel()
	return s.store.Close()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// parseValue decodes a JSON command argument.
func parseValue(arg string) (any, error) {
	v, err := attr.Decode([]byte(arg))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid JSON value", err)
	}
	return v, nil
}

// parseObject decodes a JSON object command argument.
func parseObject(arg string) (map[string]any, error) {
	v, err := parseValue(arg)
	if err != nil {
		return nil, err
	}
	m, ok := attr.AsMap(v)
	if !ok {
		return nil, NewExitError(ExitCommandError, "value must be a JSON object")
	}
	return m, nil
}
