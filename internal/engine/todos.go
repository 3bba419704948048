package engine

import (
	"context"

	"github.com/roach88/todosync/internal/collection"
	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/remote"
)

// Todos is the handle for the todo kind of one engine.
type Todos struct {
	e *Engine
}

// Load fetches the owner's todos and their category links, newest first,
// and replaces local state. In-flight optimistic edits and change events
// folded while the fetch was out stay applied on top.
// On failure local state is unchanged and the *FetchError is kept as
// LastError.
func (t *Todos) Load(ctx context.Context) error {
	e := t.e
	var todos []model.Todo
	var links []model.Association
	var todoWin, linkWin *collection.Window
	return e.load(ctx, "todos.load", e.todos.st, loadTask{
		open: func() {
			todoWin = e.todos.coll.OpenWindow()
			linkWin = e.assocs.coll.OpenWindow()
		},
		fetch: func(ctx context.Context) error {
			var err error
			if todos, err = fetch(ctx, e, e.todos); err != nil {
				return err
			}
			links, err = fetch(ctx, e, e.assocs)
			return err
		},
		apply: func() {
			e.todos.coll.Reset(todoWin, todos)
			e.assocs.coll.Reset(linkWin, links)
			e.index.rebuild()
			e.logger.Info("todos loaded", "owner", e.owner, "todos", len(todos), "links", len(links))
		},
		cancel: func() {
			e.todos.coll.CloseWindow(todoWin)
			e.assocs.coll.CloseWindow(linkWin)
		},
	})
}

// Create adds a todo optimistically. The returned op resolves once the
// remote store confirms or rejects it.
func (t *Todos) Create(ctx context.Context, fields model.TodoFields) (*Op[model.Todo], error) {
	title, err := model.NormalizeTitle(fields.Title)
	if err != nil {
		return nil, err
	}
	e := t.e
	var op *Op[model.Todo]
	err = e.submit(ctx, "todos.create", func() (err error) {
		now := e.now()
		rec := model.Todo{
			ID:        model.Pending(e.tokens.Generate()),
			Owner:     e.owner,
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		}
		row := model.Row{
			model.ColOwner:      e.owner,
			model.ColTitle:      title,
			model.ColIsComplete: false,
		}
		op, err = insert(e, e.todos, rec, row, nil)
		return err
	})
	return op, err
}

// Update applies patch optimistically. Pending and unknown ids fail with
// *NotFoundError before anything changes.
func (t *Todos) Update(ctx context.Context, id model.Identity, patch model.TodoPatch) (*Op[model.Todo], error) {
	if patch.Title != nil {
		title, err := model.NormalizeTitle(*patch.Title)
		if err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	e := t.e
	var op *Op[model.Todo]
	err := e.submit(ctx, "todos.update", func() (err error) {
		op, err = t.update(id, func(model.Todo) model.TodoPatch { return patch })
		return err
	})
	return op, err
}

// Edit changes the title of a todo.
func (t *Todos) Edit(ctx context.Context, id model.Identity, title string) (*Op[model.Todo], error) {
	return t.Update(ctx, id, model.TodoPatch{Title: &title})
}

// Toggle flips the completion state of a todo.
func (t *Todos) Toggle(ctx context.Context, id model.Identity) (*Op[model.Todo], error) {
	e := t.e
	var op *Op[model.Todo]
	err := e.submit(ctx, "todos.toggle", func() (err error) {
		op, err = t.update(id, func(cur model.Todo) model.TodoPatch {
			flipped := !cur.IsComplete
			return model.TodoPatch{IsComplete: &flipped}
		})
		return err
	})
	return op, err
}

// update runs on the loop. patchFor sees the current record so toggles
// flip the state the user saw.
func (t *Todos) update(id model.Identity, patchFor func(model.Todo) model.TodoPatch) (*Op[model.Todo], error) {
	e := t.e
	cur, ok := e.todos.coll.Get(id)
	if !ok || !id.IsConfirmed() {
		return nil, &NotFoundError{Table: model.TableTodos, ID: id}
	}
	patch := patchFor(cur)
	if patch.IsEmpty() {
		e.metrics.Mutations.WithLabelValues(model.TableTodos, remote.OpUpdate, outcomeNoop).Inc()
		return resolvedOp(cur), nil
	}
	now := e.now()
	apply := func(r model.Todo) model.Todo {
		r = patch.Apply(r)
		r.UpdatedAt = now
		return r
	}
	return update(e, e.todos, id, apply, patch.Row())
}

// Delete removes a todo and its category links optimistically.
func (t *Todos) Delete(ctx context.Context, id model.Identity) (*Op[model.Todo], error) {
	e := t.e
	var op *Op[model.Todo]
	err := e.submit(ctx, "todos.delete", func() (err error) {
		var affected []string
		cascade := func(opID collection.OpID) []journal {
			var js []journal
			js, affected = e.dropLinks(opID, func(a model.Association) bool {
				return a.TodoID == id.Value()
			})
			return js
		}
		refresh := func(bool) {
			for _, todoID := range affected {
				e.index.refresh(todoID)
			}
		}
		op, err = remove(e, e.todos, id, model.Row{model.ColID: id.Value()}, cascade, refresh)
		return err
	})
	return op, err
}

// Apply folds one todo change event and waits for it.
func (t *Todos) Apply(ctx context.Context, ch model.Change[model.Todo]) error {
	e := t.e
	return e.submit(ctx, "fold", func() error {
		fold(e, e.todos, ch, nil)
		e.publish()
		return nil
	})
}

// List returns the todos in order, newest first.
func (t *Todos) List() []TodoView { return t.e.Snapshot().Todos }

// Visible returns the todos that pass the category filter.
func (t *Todos) Visible() []TodoView { return t.e.Snapshot().Visible() }

// Get returns the todo with id.
func (t *Todos) Get(id model.Identity) (TodoView, bool) { return t.e.Snapshot().Todo(id) }

// Loading reports whether a load is in flight.
func (t *Todos) Loading() bool { return t.e.Snapshot().TodosStatus.Loading }

// LastError returns the last load or mutation failure, or nil.
func (t *Todos) LastError() error { return t.e.Snapshot().TodosStatus.LastError }
