package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/todosync/internal/model"
)

func TestCompiler_SelectSQLite(t *testing.T) {
	sql, args, err := NewCompiler(SQLite).Select(ForOwner(model.TableTodos, "u1"))
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id, user_id, title, is_complete, created_at, updated_at FROM todos WHERE user_id = ? ORDER BY created_at DESC, id ASC",
		sql)
	assert.Equal(t, []any{"u1"}, args)
}

func TestCompiler_SelectPostgres(t *testing.T) {
	sql, args, err := NewCompiler(Postgres).Select(ForOwner(model.TableTodoCategories, "u1"))
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT todo_id, category_id, user_id, created_at FROM todo_categories WHERE user_id = $1 ORDER BY created_at DESC, todo_id ASC, category_id ASC",
		sql)
	assert.Equal(t, []any{"u1"}, args)
}

func TestCompiler_SelectRejectsInvalid(t *testing.T) {
	_, _, err := NewCompiler(SQLite).Select(Select{From: "secrets", Columns: []string{"id"}})
	assert.Error(t, err)
}

func TestCompiler_InsertReturnsAllColumns(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	row := model.Todo{ID: model.Pending("tok"), Owner: "u1", Title: "Buy milk", CreatedAt: created, UpdatedAt: created}.Row()

	sql, args, err := NewCompiler(Postgres).Insert(model.TableTodos, row)
	require.NoError(t, err)
	assert.Contains(t, sql, "INSERT INTO todos")
	assert.Contains(t, sql, "created_at,is_complete,title,updated_at,user_id")
	assert.Contains(t, sql, "$5")
	assert.Contains(t, sql, "RETURNING id, user_id, title, is_complete, created_at, updated_at")
	assert.Equal(t, []any{created, false, "Buy milk", created, "u1"}, args)
}

func TestCompiler_InsertRejectsUnknownColumn(t *testing.T) {
	_, _, err := NewCompiler(SQLite).Insert(model.TableCategories, model.Row{"is_complete": true})
	assert.Error(t, err)
}

func TestCompiler_UpdateIsOwnerScoped(t *testing.T) {
	patch := model.Row{"title": "Buy oat milk", "updated_at": "2024-01-02T00:00:00Z"}
	sql, args, err := NewCompiler(SQLite).Update(model.TableTodos, "u1", "t1", patch)
	require.NoError(t, err)
	assert.Contains(t, sql, "UPDATE todos SET title = ?, updated_at = ?")
	assert.Contains(t, sql, "id = ?")
	assert.Contains(t, sql, "user_id = ?")
	assert.Equal(t, []any{"Buy oat milk", "2024-01-02T00:00:00Z", "t1", "u1"}, args)
}

func TestCompiler_UpdateErrors(t *testing.T) {
	c := NewCompiler(SQLite)
	_, _, err := c.Update(model.TableTodos, "u1", "t1", model.Row{})
	assert.Error(t, err)
	_, _, err = c.Update(model.TableTodos, "u1", "t1", model.Row{"user_id": "u2"})
	assert.Error(t, err)
	_, _, err = c.Update(model.TableTodoCategories, "u1", "t1", model.Row{"created_at": "x"})
	assert.Error(t, err)
}

func TestCompiler_DeleteByPair(t *testing.T) {
	sql, args, err := NewCompiler(SQLite).Delete(model.TableTodoCategories, "u1", model.AssociationKeyRow("t1", "c1"))
	require.NoError(t, err)
	assert.Contains(t, sql, "DELETE FROM todo_categories WHERE")
	assert.Contains(t, sql, "category_id = ?")
	assert.Contains(t, sql, "todo_id = ?")
	assert.Contains(t, sql, "user_id = ?")
	// Eq keys are emitted in sorted order.
	assert.Equal(t, []any{"c1", "t1", "u1"}, args)
}

func TestCompiler_DeleteRejectsWrongKey(t *testing.T) {
	c := NewCompiler(SQLite)
	_, _, err := c.Delete(model.TableTodos, "u1", model.Row{"title": "x"})
	assert.Error(t, err)
	_, _, err = c.Delete(model.TableTodoCategories, "u1", model.Row{"todo_id": "t1"})
	assert.Error(t, err)
}

func TestDialect_String(t *testing.T) {
	assert.Equal(t, "sqlite", SQLite.String())
	assert.Equal(t, "postgres", Postgres.String())
	assert.Equal(t, "Dialect(9)", Dialect(9).String())
}
