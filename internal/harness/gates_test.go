package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/remote"
)

func TestRemoteRequest(t *testing.T) {
	req, ok := remoteRequest("todo.tag")
	require.True(t, ok)
	assert.Equal(t, request{remote.OpInsert, model.TableTodoCategories}, req)

	req, ok = remoteRequest("category.delete")
	require.True(t, ok)
	assert.Equal(t, request{remote.OpDelete, model.TableCategories}, req)

	for _, action := range []string{"filter.set", "event", "release", "load", "check"} {
		_, ok := remoteRequest(action)
		assert.False(t, ok, action)
	}
	for action := range Actions {
		if _, ok := remoteRequest(action); ok {
			assert.Contains(t, action, ".", action)
		}
	}
}

func TestGates_FailOnce(t *testing.T) {
	var g gates
	g.add(request{remote.OpInsert, model.TableTodos}, false, "down")
	ctx := context.Background()

	other := remote.Request{Op: remote.OpInsert, Table: model.TableCategories}
	assert.NoError(t, g.intercept(ctx, other))

	req := remote.Request{Op: remote.OpInsert, Table: model.TableTodos}
	assert.EqualError(t, g.intercept(ctx, req), "down")
	assert.NoError(t, g.intercept(ctx, req), "a gate is claimed once")
}

func TestGates_HoldUntilOpened(t *testing.T) {
	var g gates
	gt := g.add(request{remote.OpUpdate, model.TableTodos}, true, "")

	errc := make(chan error, 1)
	go func() {
		errc <- g.intercept(context.Background(), remote.Request{Op: remote.OpUpdate, Table: model.TableTodos})
	}()

	select {
	case <-gt.taken:
	case <-time.After(2 * time.Second):
		t.Fatal("request never claimed the gate")
	}
	select {
	case err := <-errc:
		t.Fatalf("request passed a closed gate: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	g.open(gt, "rejected")
	assert.EqualError(t, <-errc, "rejected")
}

func TestGates_HoldHonorsContext(t *testing.T) {
	var g gates
	g.add(request{remote.OpDelete, model.TableTodos}, true, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.intercept(ctx, remote.Request{Op: remote.OpDelete, Table: model.TableTodos})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGates_Drop(t *testing.T) {
	var g gates
	gt := g.add(request{remote.OpInsert, model.TableTodos}, false, "down")
	g.drop(gt)
	assert.NoError(t, g.intercept(context.Background(), remote.Request{Op: remote.OpInsert, Table: model.TableTodos}))
}
