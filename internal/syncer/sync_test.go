package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/remote/memtree"
)

func TestParseOperation(t *testing.T) {
	for _, name := range []string{"read", "create", "update", "delete"} {
		op, err := ParseOperation(name)
		require.NoError(t, err)
		assert.Equal(t, Operation(name), op)
	}

	_, err := ParseOperation("upsert")
	assert.True(t, IsInvalidConfiguration(err))
}

func TestSync_RejectsNilTargetAndUnknownOperation(t *testing.T) {
	assert.True(t, IsInvalidConfiguration(Sync(OpRead, nil, Options{})))

	f := newFixture(t)
	c, err := NewRecord(f.root.Child("a"), newRecord(t, nil, nil), WithAutoSync(false))
	require.NoError(t, err)
	assert.True(t, IsInvalidConfiguration(c.Sync("upsert", Options{})))
	assert.Empty(t, f.log.Calls())
}

func TestSync_ReadWithoutParseLeavesRecord(t *testing.T) {
	f := newFixture(t, memtree.WithData(map[string]any{"a": map[string]any{"x": 1}}))
	r := newRecord(t, nil, map[string]any{"y": 2})
	c, err := NewRecord(f.root.Child("a"), r, WithAutoSync(false))
	require.NoError(t, err)

	var out outcome
	require.NoError(t, c.Sync(OpRead, out.opts()))
	f.tree.Drain()

	assert.Equal(t, map[string]any{"x": int64(1)}, out.value)
	assert.Equal(t, map[string]any{"y": int64(2)}, r.Map())
}

func TestSync_ReadSilentSuppressesEvents(t *testing.T) {
	f := newFixture(t, memtree.WithData(map[string]any{"a": map[string]any{"x": 1}}))
	r := newRecord(t, nil, nil)
	c, err := NewRecord(f.root.Child("a"), r, WithAutoSync(false))
	require.NoError(t, err)
	changes := 0
	r.OnChange(func(model.Event) { changes++ })

	require.NoError(t, c.Sync(OpRead, Options{Parse: true, Silent: true}))
	f.tree.Drain()

	assert.Equal(t, map[string]any{"id": "a", "x": int64(1)}, r.Map())
	assert.Zero(t, changes)
}

func TestSync_CreateUpdateDelete(t *testing.T) {
	f := newFixture(t, memtree.WithData(map[string]any{"a": map[string]any{"old": true}}))
	r := newRecord(t, nil, map[string]any{"id": "a", "x": 1})
	c, err := NewRecord(f.root.Child("a"), r, WithAutoSync(false))
	require.NoError(t, err)

	require.NoError(t, c.Sync(OpUpdate, Options{}))
	f.tree.Drain()
	assert.Equal(t, map[string]any{"id": "a", "x": int64(1), "old": true}, f.tree.Value("a"))

	require.NoError(t, c.Sync(OpCreate, Options{}))
	f.tree.Drain()
	assert.Equal(t, map[string]any{"id": "a", "x": int64(1)}, f.tree.Value("a"))

	var out outcome
	require.NoError(t, c.Sync(OpDelete, out.opts()))
	f.tree.Drain()
	assert.Equal(t, 1, out.successes)
	assert.Nil(t, f.tree.Value("a"))

	assert.Equal(t, []string{remote.OpPatch, remote.OpWrite, remote.OpWrite}, ops(f.log.Writes()))
}

func TestSync_UpdateWithPriorityWritesDestructively(t *testing.T) {
	f := newFixture(t)
	r := newRecord(t, nil, map[string]any{"id": "a", "x": 1, ".priority": 2})
	c, err := NewRecord(f.root.Child("a"), r, WithAutoSync(false))
	require.NoError(t, err)

	require.NoError(t, c.Sync(OpUpdate, Options{}))
	f.tree.Drain()

	assert.Equal(t, []remote.Call{{
		Op:       remote.OpWriteWithPriority,
		Path:     "a",
		Value:    map[string]any{"id": "a", "x": int64(1)},
		Priority: int64(2),
	}}, f.log.Writes())
}

func TestSync_RemoteFailure(t *testing.T) {
	f := newFixture(t)
	f.tree.Deny("a", nil)
	c, err := NewRecord(f.root.Child("a"), newRecord(t, nil, map[string]any{"id": "a"}), WithAutoSync(false))
	require.NoError(t, err)

	for _, op := range []Operation{OpRead, OpCreate, OpUpdate, OpDelete} {
		var out outcome
		require.NoError(t, c.Sync(op, out.opts()))
		f.tree.Drain()

		assert.Equal(t, 1, out.errors, string(op))
		assert.Equal(t, 1, out.completes, string(op))
		assert.True(t, IsRemoteOperation(out.err), string(op))
		assert.ErrorIs(t, out.err, remote.ErrPermissionDenied, string(op))
	}
}

func ops(calls []remote.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op
	}
	return out
}
