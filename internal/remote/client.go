// Package remote defines the narrow interface todosync consumes from a
// remote relational store, plus an in-memory implementation and a DSN
// factory for choosing a backend.
//
// A store holds three tables: todos, categories and todo_categories. Every
// write is scoped to an owner, and every committed write is published to
// subscribers as a model.RowChange.
package remote

import (
	"context"

	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/query"
)

// Client is a remote store.
type Client interface {
	// Query returns the rows matching q in q's order.
	Query(ctx context.Context, q query.Select) ([]model.Row, error)

	// Insert creates a row and returns it as stored, with its id assigned.
	Insert(ctx context.Context, table string, row model.Row) (model.Row, error)

	// Update patches the row with the given id owned by owner and returns
	// it as stored. Returns ErrNotFound if no such row exists.
	Update(ctx context.Context, table, owner, id string, patch model.Row) (model.Row, error)

	// Delete removes the row addressed by key owned by owner. Deleting a
	// todo or category also removes its associations. Deleting an absent
	// row is not an error.
	Delete(ctx context.Context, table, owner string, key model.Row) error

	// Subscribe opens a change stream for one table.
	Subscribe(ctx context.Context, opts SubscribeOptions) (Subscription, error)

	Close() error
}

// SubscribeOptions selects the changes a subscription receives.
type SubscribeOptions struct {
	Table string
	// Filter is a PostgREST-style condition such as "user_id=eq.u1".
	// Empty means every row of the table.
	Filter string
}

// Subscription is an open change stream.
type Subscription interface {
	// Events delivers changes in commit order. The channel is closed when
	// the subscription or its store is closed.
	Events() <-chan model.RowChange
	Close() error
}

// Request describes one call reaching a store, for interceptors.
type Request struct {
	Op    string
	Table string
	Owner string
	ID    string
	Row   model.Row
}

// Request operations.
const (
	OpQuery  = "query"
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Interceptor runs before a store executes a request. It may block, and a
// non-nil error fails the request without executing it.
type Interceptor func(ctx context.Context, req Request) error
