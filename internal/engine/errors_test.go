package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/remote"
)

func TestErrorPredicates_Wrapped(t *testing.T) {
	fetch := fmt.Errorf("load: %w", &FetchError{Table: model.TableTodos, Err: remote.ErrUnauthorized})
	assert.True(t, IsFetchError(fetch))
	assert.False(t, IsMutationError(fetch))
	assert.ErrorIs(t, fetch, remote.ErrUnauthorized)

	mut := &MutationError{Table: model.TableTodos, Op: "insert", ID: model.Pending("tok"), Err: remote.ErrConflict}
	assert.True(t, IsMutationError(mut))
	assert.ErrorIs(t, mut, remote.ErrConflict)
	assert.Equal(t, "insert todos temp_tok: row already exists", mut.Error())

	nf := &NotFoundError{Table: model.TableCategories, ID: model.Confirmed("c1")}
	assert.True(t, IsNotFoundError(nf))
	assert.Equal(t, "categories c1: not found", nf.Error())
	assert.Contains(t, (&NotFoundError{Table: model.TableTodos, ID: model.Pending("x")}).Error(), "not confirmed")

	assert.False(t, IsNotFoundError(errors.New("plain")))
}
