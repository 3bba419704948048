package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/todosync/internal/auth"
	"github.com/roach88/todosync/internal/engine"
	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/query"
	"github.com/roach88/todosync/internal/remote"
	"github.com/roach88/todosync/internal/testutil"
)

var secret = []byte("test-secret")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore(t *testing.T) *remote.MemoryStore {
	t.Helper()
	store := remote.NewMemoryStore(remote.WithIDGenerator(testutil.IDSequence("id")))
	at := testutil.Epoch
	require.NoError(t, store.Seed(model.TableTodos, model.Row{
		model.ColID: "t1", model.ColOwner: "alice", model.ColTitle: "Walk dog",
		model.ColIsComplete: false, model.ColCreatedAt: at, model.ColUpdatedAt: at,
	}, model.Row{
		model.ColID: "t2", model.ColOwner: "bob", model.ColTitle: "Not yours",
		model.ColIsComplete: false, model.ColCreatedAt: at, model.ColUpdatedAt: at,
	}))
	require.NoError(t, store.Seed(model.TableCategories, model.Row{
		model.ColID: "c1", model.ColOwner: "alice", model.ColTitle: "Home",
		model.ColCreatedAt: at, model.ColUpdatedAt: at,
	}))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func open(t *testing.T, opts Options) *Registry {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := Open(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestOpen_LoadsOwnerData(t *testing.T) {
	store := seededStore(t)
	r := open(t, Options{Client: store, Owner: "alice"})

	assert.Equal(t, "alice", r.Owner())
	todos := r.Todos().List()
	require.Len(t, todos, 1)
	assert.Equal(t, "Walk dog", todos[0].Title)
	require.Len(t, r.Categories().List(), 1)
	assert.NoError(t, r.Todos().LastError())
}

func TestOpen_RequiresOwner(t *testing.T) {
	_, err := Open(context.Background(), Options{Client: remote.NewMemoryStore(), Logger: quietLogger()})
	assert.ErrorIs(t, err, engine.ErrNotAuthenticated)
}

func TestOpen_VerifiedToken(t *testing.T) {
	store := seededStore(t)
	token, err := auth.Issue(secret, "alice", time.Hour, time.Now())
	require.NoError(t, err)

	r := open(t, Options{Client: store, Token: token, Verifier: auth.NewVerifier(secret)})
	assert.Equal(t, "alice", r.Owner())

	_, err = Open(context.Background(), Options{
		Client:   store,
		Token:    token,
		Verifier: auth.NewVerifier([]byte("other")),
		Logger:   quietLogger(),
	})
	assert.ErrorIs(t, err, engine.ErrNotAuthenticated)
}

func TestOpen_TokenOwnerMismatch(t *testing.T) {
	token, err := auth.Issue(secret, "alice", 0, time.Now())
	require.NoError(t, err)
	_, err = Open(context.Background(), Options{
		Client: remote.NewMemoryStore(),
		Owner:  "bob",
		Token:  token,
		Logger: quietLogger(),
	})
	assert.ErrorIs(t, err, engine.ErrNotAuthenticated)
	assert.ErrorContains(t, err, "does not match")
}

func TestOpen_LockIsExclusivePerOwner(t *testing.T) {
	dir := t.TempDir()
	store := seededStore(t)
	first := open(t, Options{Client: store, Owner: "alice", StateDir: dir})

	_, err := Open(context.Background(), Options{Client: store, Owner: "alice", StateDir: dir, Logger: quietLogger()})
	assert.ErrorIs(t, err, ErrLocked)

	// Other owners are not affected.
	open(t, Options{Client: store, Owner: "bob", StateDir: dir})

	require.NoError(t, first.Close())
	open(t, Options{Client: store, Owner: "alice", StateDir: dir})
	assert.FileExists(t, LockPath(dir, "alice"))
}

func TestOpen_FromDSN(t *testing.T) {
	r := open(t, Options{DSN: "memory://", Owner: "alice"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	op, err := r.Todos().Create(ctx, model.TodoFields{Title: "Buy milk"})
	require.NoError(t, err)
	rec, err := op.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, rec.ID.IsConfirmed())
}

func TestOpen_UnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), Options{DSN: "gopher://x", Owner: "alice", Logger: quietLogger()})
	assert.ErrorContains(t, err, "unsupported scheme")
}

func TestOpen_LoadFailureIsNotFatal(t *testing.T) {
	store := seededStore(t)
	store.Intercept(func(ctx context.Context, req remote.Request) error {
		if req.Op == remote.OpQuery {
			return remote.ErrUnauthorized
		}
		return nil
	})
	r := open(t, Options{Client: store, Owner: "alice"})
	assert.True(t, engine.IsFetchError(r.Todos().LastError()))
	assert.ErrorIs(t, r.Todos().LastError(), remote.ErrUnauthorized)
	assert.Empty(t, r.Todos().List())
}

func TestFilter(t *testing.T) {
	r := open(t, Options{Client: seededStore(t), Owner: "alice"})
	assert.Equal(t, engine.AllTodos(), r.Filter())
	require.NoError(t, r.SetFilter(context.Background(), engine.InCategory("c1")))
	assert.Equal(t, "c1", r.Filter().CategoryID())
	assert.Empty(t, r.Todos().Visible())
}

func TestClose_StopsEngine(t *testing.T) {
	store := seededStore(t)
	r := open(t, Options{Client: store, Owner: "alice"})
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err := r.Todos().Create(context.Background(), model.TodoFields{Title: "late"})
	assert.ErrorIs(t, err, engine.ErrStopped)

	// The caller's store stays open.
	_, err = store.Query(context.Background(), query.ForOwner(model.TableTodos, "alice"))
	assert.NoError(t, err)
}

func TestWithToken(t *testing.T) {
	got, err := withToken("ws://host:8080/ws", "abc")
	require.NoError(t, err)
	assert.Equal(t, "ws://host:8080/ws?access_token=abc", got)

	got, err = withToken("memory://", "abc")
	require.NoError(t, err)
	assert.Equal(t, "memory://", got)

	got, err = withToken("wss://host/ws?access_token=keep", "abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://host/ws?access_token=keep", got)
}
