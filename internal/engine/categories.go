package engine

import (
	"context"

	"github.com/roach88/todosync/internal/collection"
	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/remote"
)

// Categories is the handle for the category kind of one engine.
type Categories struct {
	e *Engine
}

// Load fetches the owner's categories, newest first, and replaces local
// state. On failure local state is unchanged.
func (c *Categories) Load(ctx context.Context) error {
	e := c.e
	var categories []model.Category
	var win *collection.Window
	return e.load(ctx, "categories.load", e.categories.st, loadTask{
		open:  func() { win = e.categories.coll.OpenWindow() },
		fetch: func(ctx context.Context) error {
			var err error
			categories, err = fetch(ctx, e, e.categories)
			return err
		},
		apply: func() {
			e.categories.coll.Reset(win, categories)
			e.logger.Info("categories loaded", "owner", e.owner, "categories", len(categories))
		},
		cancel: func() { e.categories.coll.CloseWindow(win) },
	})
}

// Create adds a category optimistically.
func (c *Categories) Create(ctx context.Context, fields model.CategoryFields) (*Op[model.Category], error) {
	title, err := model.NormalizeTitle(fields.Title)
	if err != nil {
		return nil, err
	}
	e := c.e
	var op *Op[model.Category]
	err = e.submit(ctx, "categories.create", func() (err error) {
		now := e.now()
		rec := model.Category{
			ID:        model.Pending(e.tokens.Generate()),
			Owner:     e.owner,
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		}
		row := model.Row{
			model.ColOwner: e.owner,
			model.ColTitle: title,
		}
		op, err = insert(e, e.categories, rec, row, nil)
		return err
	})
	return op, err
}

// Update applies patch optimistically.
func (c *Categories) Update(ctx context.Context, id model.Identity, patch model.CategoryPatch) (*Op[model.Category], error) {
	if patch.Title != nil {
		title, err := model.NormalizeTitle(*patch.Title)
		if err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	e := c.e
	var op *Op[model.Category]
	err := e.submit(ctx, "categories.update", func() (err error) {
		if patch.IsEmpty() {
			cur, ok := e.categories.coll.Get(id)
			if !ok || !id.IsConfirmed() {
				return &NotFoundError{Table: model.TableCategories, ID: id}
			}
			e.metrics.Mutations.WithLabelValues(model.TableCategories, remote.OpUpdate, outcomeNoop).Inc()
			op = resolvedOp(cur)
			return nil
		}
		now := e.now()
		apply := func(r model.Category) model.Category {
			r = patch.Apply(r)
			r.UpdatedAt = now
			return r
		}
		op, err = update(e, e.categories, id, apply, patch.Row())
		return err
	})
	return op, err
}

// Edit changes the title of a category.
func (c *Categories) Edit(ctx context.Context, id model.Identity, title string) (*Op[model.Category], error) {
	return c.Update(ctx, id, model.CategoryPatch{Title: &title})
}

// Delete removes a category and every link to it optimistically. If the
// category is the active filter, the filter falls back to all todos until
// the delete is confirmed; a rolled back delete restores it.
func (c *Categories) Delete(ctx context.Context, id model.Identity) (*Op[model.Category], error) {
	e := c.e
	var op *Op[model.Category]
	err := e.submit(ctx, "categories.delete", func() (err error) {
		var affected []string
		prev, cleared := e.filter, false
		cascade := func(opID collection.OpID) []journal {
			var js []journal
			js, affected = e.dropLinks(opID, func(a model.Association) bool {
				return a.CategoryID == id.Value()
			})
			cleared = e.clearFilterFor(id)
			return js
		}
		refresh := func(rolledBack bool) {
			for _, todoID := range affected {
				e.index.refresh(todoID)
			}
			if rolledBack && cleared {
				e.restoreFilter(prev)
			}
		}
		op, err = remove(e, e.categories, id, model.Row{model.ColID: id.Value()}, cascade, refresh)
		return err
	})
	return op, err
}

// Apply folds one category change event and waits for it.
func (c *Categories) Apply(ctx context.Context, ch model.Change[model.Category]) error {
	e := c.e
	return e.submit(ctx, "fold", func() error {
		fold(e, e.categories, ch, e.afterCategoryFold)
		e.publish()
		return nil
	})
}

// List returns the categories in order, newest first.
func (c *Categories) List() []model.Category { return c.e.Snapshot().Categories }

// Get returns the category with id.
func (c *Categories) Get(id model.Identity) (model.Category, bool) { return c.e.Snapshot().Category(id) }

// Loading reports whether a load is in flight.
func (c *Categories) Loading() bool { return c.e.Snapshot().CategoriesStatus.Loading }

// LastError returns the last load or mutation failure, or nil.
func (c *Categories) LastError() error { return c.e.Snapshot().CategoriesStatus.LastError }
