package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// sqliteDSN returns a fresh database that outlives a single command.
func sqliteDSN(t *testing.T) string {
	t.Helper()
	return "sqlite://" + filepath.Join(t.TempDir(), "todos.db")
}

// run executes a JSON command as alice against dsn and decodes its data.
func run[T any](t *testing.T, dsn string, args ...string) T {
	t.Helper()
	full := append([]string{"--dsn", dsn, "--owner", "alice", "--format", "json"}, args...)
	out, errOut, err := execute(t, full...)
	require.NoError(t, err, "stderr: %s", errOut)

	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestTodoLifecycle(t *testing.T) {
	dsn := sqliteDSN(t)

	added := run[todoJSON](t, dsn, "todo", "add", "Buy", "milk")
	assert.Equal(t, "Buy milk", added.Title)
	assert.False(t, added.Pending, "add waits for the store to confirm")
	assert.False(t, added.IsComplete)
	require.NotEmpty(t, added.ID)

	toggled := run[todoJSON](t, dsn, "todo", "toggle", added.ID)
	assert.True(t, toggled.IsComplete)

	edited := run[todoJSON](t, dsn, "todo", "edit", added.ID, "Buy", "oat", "milk")
	assert.Equal(t, "Buy oat milk", edited.Title)
	assert.True(t, edited.IsComplete)

	list := run[[]todoJSON](t, dsn, "todo", "ls")
	require.Len(t, list, 1)
	assert.Equal(t, added.ID, list[0].ID)
	assert.Equal(t, "Buy oat milk", list[0].Title)

	deleted := run[map[string]string](t, dsn, "todo", "rm", added.ID)
	assert.Equal(t, added.ID, deleted["deleted"])
	assert.Empty(t, run[[]todoJSON](t, dsn, "todo", "ls"))
}

func TestTodoOwnersAreIsolated(t *testing.T) {
	dsn := sqliteDSN(t)
	run[todoJSON](t, dsn, "todo", "add", "Buy milk")

	out, _, err := execute(t, "--dsn", dsn, "--owner", "bob", "--format", "json", "todo", "ls")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":[]}`, out)
}

func TestTodoTagAndFilter(t *testing.T) {
	dsn := sqliteDSN(t)
	milk := run[todoJSON](t, dsn, "todo", "add", "Buy milk")
	dog := run[todoJSON](t, dsn, "todo", "add", "Walk dog")
	groceries := run[categoryJSON](t, dsn, "category", "add", "Groceries")

	tagged := run[todoJSON](t, dsn, "todo", "tag", milk.ID, groceries.ID)
	assert.Equal(t, []string{groceries.ID}, tagged.Categories)

	inCategory := run[[]todoJSON](t, dsn, "todo", "ls", "--filter", groceries.ID)
	require.Len(t, inCategory, 1)
	assert.Equal(t, milk.ID, inCategory[0].ID)

	uncategorized := run[[]todoJSON](t, dsn, "todo", "ls", "--filter", "no-category")
	require.Len(t, uncategorized, 1)
	assert.Equal(t, dog.ID, uncategorized[0].ID)

	all := run[[]todoJSON](t, dsn, "todo", "ls", "--filter", "all")
	assert.Len(t, all, 2)

	untagged := run[todoJSON](t, dsn, "todo", "untag", milk.ID, groceries.ID)
	assert.Empty(t, untagged.Categories)
	assert.Len(t, run[[]todoJSON](t, dsn, "todo", "ls", "--filter", "no-category"), 2)
}

func TestTodoErrors(t *testing.T) {
	dsn := sqliteDSN(t)

	tests := []struct {
		name string
		args []string
		code int
		msg  string
	}{
		{"unknown_id", []string{"todo", "toggle", "t404"}, ExitFailure, "not found"},
		{"empty_title", []string{"todo", "add", "  "}, ExitCommandError, "invalid title"},
		{"missing_args", []string{"todo", "edit", "t1"}, ExitFailure, "requires at least 2 arg"},
		{"no_owner", []string{"--owner", "", "todo", "ls"}, ExitCommandError, "open session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--dsn", dsn, "--owner", "alice"}, tt.args...)
			_, _, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestTodoListText(t *testing.T) {
	dsn := sqliteDSN(t)
	milk := run[todoJSON](t, dsn, "todo", "add", "Buy milk")
	run[todoJSON](t, dsn, "todo", "add", "Walk dog")
	run[todoJSON](t, dsn, "todo", "toggle", milk.ID)

	out, _, err := execute(t, "--dsn", dsn, "--owner", "alice", "todo", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "Incomplete (1)")
	assert.Contains(t, out, "[ ] Walk dog")
	assert.Contains(t, out, "Complete (1)")
	assert.Contains(t, out, "[x] ")
	assert.Contains(t, out, "Buy milk")
}

func TestCategoryLifecycle(t *testing.T) {
	dsn := sqliteDSN(t)

	added := run[categoryJSON](t, dsn, "category", "add", "Chores")
	assert.Equal(t, "Chores", added.Title)
	assert.False(t, added.Pending)

	renamed := run[categoryJSON](t, dsn, "cat", "edit", added.ID, "House", "chores")
	assert.Equal(t, "House chores", renamed.Title)

	todo := run[todoJSON](t, dsn, "todo", "add", "Walk dog")
	run[todoJSON](t, dsn, "todo", "tag", todo.ID, added.ID)

	list := run[[]categoryJSON](t, dsn, "category", "ls")
	require.Len(t, list, 1)
	assert.Equal(t, "House chores", list[0].Title)

	run[map[string]string](t, dsn, "category", "rm", added.ID)
	assert.Empty(t, run[[]categoryJSON](t, dsn, "category", "ls"))

	// Deleting the category unlinked the todo.
	todos := run[[]todoJSON](t, dsn, "todo", "ls")
	require.Len(t, todos, 1)
	assert.Empty(t, todos[0].Categories)
}
