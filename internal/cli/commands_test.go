package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleKinds = "../harness/testdata/scenarios/kinds.cue"

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(isolate(t), "data", "tree.db")
}

func TestSetThenGet(t *testing.T) {
	db := tempDB(t)

	out, err := execute(t, "--db", db, "set", "todos/k1", `{"title":"milk","done":false}`)
	require.NoError(t, err)
	assert.Equal(t, "write todos/k1\n", out)

	out, err = execute(t, "--db", db, "get", "todos/k1", "todos/missing")
	require.NoError(t, err)
	assert.Equal(t, "todos/k1\t{\"done\":false,\"title\":\"milk\"}\ntodos/missing\tnull\n", out)
}

func TestGetRootPrintsSlash(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, "--db", db, "set", "a", `"x"`)
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "get", "/")
	require.NoError(t, err)
	assert.Equal(t, "/\t{\"a\":\"x\"}\n", out)
}

func TestGetJSON(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, "--db", db, "set", "todos/k1", `{"title":"milk"}`)
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "--format", "json", "get", "todos/k1")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   []GetResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "todos/k1", resp.Data[0].Path)
	assert.Equal(t, map[string]any{"title": "milk"}, resp.Data[0].Value)
}

func TestGetInvalidConcurrency(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, "--db", db, "get", "a", "--concurrency", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestUpdateMergesKeys(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, "--db", db, "set", "todos/k1", `{"title":"milk","done":false}`)
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "update", "todos/k1", `{"done":true,"title":null}`)
	require.NoError(t, err)
	assert.Equal(t, "patch todos/k1\n", out)

	out, err = execute(t, "--db", db, "get", "todos/k1")
	require.NoError(t, err)
	assert.Equal(t, "todos/k1\t{\"done\":true}\n", out)
}

func TestUpdateRequiresObject(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, "--db", db, "update", "todos/k1", `[1,2]`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "JSON object")
}

func TestSetInvalidJSON(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, "--db", db, "set", "a", `{nope`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid JSON value")
}

func TestSetWithPriority(t *testing.T) {
	db := tempDB(t)
	out, err := execute(t, "--db", db, "set", "todos/k1", `{"title":"milk"}`, "--priority", `"a"`)
	require.NoError(t, err)
	assert.Equal(t, "write_with_priority todos/k1\n", out)
}

func TestRemove(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, "--db", db, "set", "todos/k1", `{"title":"milk"}`)
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "rm", "todos")
	require.NoError(t, err)
	assert.Equal(t, "delete todos\n", out)

	out, err = execute(t, "--db", db, "get", "todos/k1")
	require.NoError(t, err)
	assert.Equal(t, "todos/k1\tnull\n", out)
}

func TestPushGeneratesKey(t *testing.T) {
	db := tempDB(t)

	out, err := execute(t, "--db", db, "push", "todos", `{"title":"milk"}`)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = execute(t, "--db", db, "get", "todos/"+id)
	require.NoError(t, err)
	assert.Equal(t, "todos/"+id+"\t{\"id\":\""+id+"\",\"title\":\"milk\"}\n", out)
}

func TestPushKeysAreOrdered(t *testing.T) {
	db := tempDB(t)
	first, err := execute(t, "--db", db, "push", "todos", `{"title":"a"}`)
	require.NoError(t, err)
	second, err := execute(t, "--db", db, "push", "todos", `{"title":"b"}`)
	require.NoError(t, err)
	assert.Less(t, strings.TrimSpace(first), strings.TrimSpace(second))
}

func TestPushULIDKey(t *testing.T) {
	db := tempDB(t)
	out, err := execute(t, "--db", db, "--key-format", "ulid", "push", "todos", `{"title":"a"}`)
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(out), 26)
}

func TestPushWithKindDefaults(t *testing.T) {
	db := tempDB(t)

	out, err := execute(t, "--db", db, "--format", "json", "push", "todos", `{"title":"milk"}`,
		"--kinds", exampleKinds, "--kind", "todo")
	require.NoError(t, err)

	var resp struct {
		Data PushResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "todos/"+resp.Data.ID, resp.Data.Path)
	assert.Equal(t, false, resp.Data.Record["done"])
	assert.Equal(t, "milk", resp.Data.Record["title"])
}

func TestPushUnknownKind(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, "--db", db, "push", "todos", `{}`, "--kinds", exampleKinds, "--kind", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown kind "missing"`)
}

func TestPushKindWithoutKinds(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, "--db", db, "push", "todos", `{}`, "--kind", "todo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--kind requires --kinds")
}

func TestKindsList(t *testing.T) {
	isolate(t)
	out, err := execute(t, "kinds", exampleKinds)
	require.NoError(t, err)
	assert.Contains(t, out, "todo\tautoSync=false\torderBy=rank\tdefaults={\"done\":false}")
	assert.Contains(t, out, "note\tautoSync=default")
}

func TestKindsMissingPath(t *testing.T) {
	isolate(t)
	_, err := execute(t, "kinds", "does/not/exist.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestKindListEmpty(t *testing.T) {
	assert.Equal(t, "No kinds declared.", KindList{}.String())
}
