package schema

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/model"
)

func TestLoadString(t *testing.T) {
	reg, err := LoadString(`
kind: todo: {
	autoSync: false
	orderBy: "rank"
	defaults: {done: false, count: 0}
}
kind: note: {}
`)
	require.NoError(t, err)

	todo, ok := reg.Lookup("todo")
	require.True(t, ok)
	assert.Equal(t, "todo", todo.Name)
	require.NotNil(t, todo.AutoSync)
	assert.False(t, *todo.AutoSync)
	assert.Equal(t, "rank", todo.OrderBy)
	assert.Equal(t, map[string]any{"done": false, "count": int64(0)}, todo.Defaults)

	note, ok := reg.Lookup("note")
	require.True(t, ok)
	assert.Nil(t, note.AutoSync, "undeclared autoSync falls through to the global default")

	names := []string{}
	for _, k := range reg.Kinds() {
		names = append(names, k.Name)
	}
	assert.Equal(t, []string{"note", "todo"}, names)
}

func TestLoadString_RejectsUnknownField(t *testing.T) {
	_, err := LoadString(`kind: todo: {autosync: true}`)
	require.Error(t, err)
}

func TestLoadString_RejectsWrongType(t *testing.T) {
	_, err := LoadString(`kind: todo: {autoSync: "yes"}`)

	var ce *CompileError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.True(t, ce.Pos.IsValid())
}

func TestLoadString_RejectsIDDefault(t *testing.T) {
	_, err := LoadString(`kind: todo: {defaults: {id: "fixed"}}`)
	assert.ErrorContains(t, err, "id cannot have a default")
}

func TestLoadString_NoKinds(t *testing.T) {
	reg, err := LoadString(``)
	require.NoError(t, err)
	assert.Empty(t, reg.Kinds())
}

func TestLoadFile(t *testing.T) {
	reg, err := LoadFile(filepath.Join("testdata", "kinds.cue"))
	require.NoError(t, err)

	todo, ok := reg.Lookup("todo")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"done": false, "title": "untitled", "tags": []any{}}, todo.Defaults)

	msg, ok := reg.Lookup("message")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"priority": int64(1)}, msg.Defaults)
}

func TestLoadDir(t *testing.T) {
	reg, err := LoadDir("testdata")
	require.NoError(t, err)
	assert.Len(t, reg.Kinds(), 2)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join("testdata", "missing.cue"))
	assert.Error(t, err)
}

func TestRegistry_Lookup(t *testing.T) {
	var nilReg *Registry

	k, ok := nilReg.Lookup("")
	assert.True(t, ok)
	assert.Same(t, model.DefaultKind, k)

	_, ok = nilReg.Lookup("todo")
	assert.False(t, ok)
}
