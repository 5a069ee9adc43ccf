package syncer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/remote/memtree"
)

type fixture struct {
	tree *memtree.Tree
	log  *remote.CallLog
	root remote.Node
}

func newFixture(t *testing.T, opts ...memtree.Option) *fixture {
	t.Helper()
	tree, err := memtree.New(opts...)
	require.NoError(t, err)
	log := &remote.CallLog{}
	return &fixture{tree: tree, log: log, root: remote.NewRecorder(tree.Root(), log)}
}

// other returns an unrecorded node, standing in for a second client.
func (f *fixture) other(path string) remote.Node {
	return f.tree.Root().Child(path)
}

func newRecord(t *testing.T, k *model.Kind, attrs map[string]any) *model.Record {
	t.Helper()
	r, err := model.NewRecord(k, attrs)
	require.NoError(t, err)
	return r
}

type outcome struct {
	value     any
	err       error
	successes int
	errors    int
	completes int
}

func (o *outcome) opts() Options {
	return Options{
		Success:  func(v any) { o.successes++; o.value = v },
		Error:    func(err error) { o.errors++; o.err = err },
		Complete: func() { o.completes++ },
	}
}
