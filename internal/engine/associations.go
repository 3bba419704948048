package engine

import (
	"context"
	"slices"

	"github.com/roach88/todosync/internal/collection"
	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/remote"
)

// categoryIndex derives, per todo, the ids of its linked categories.
// Each entry is rebuilt from the association collection when a step touches
// that todo; entries are never mutated in place, so snapshots can share them.
type categoryIndex struct {
	assocs *collection.Collection[model.Association]
	byTodo map[string][]string
}

func newCategoryIndex(assocs *collection.Collection[model.Association]) *categoryIndex {
	return &categoryIndex{assocs: assocs, byTodo: make(map[string][]string)}
}

// refresh recomputes the entry of one todo.
func (x *categoryIndex) refresh(todoID string) {
	var cats []string
	for _, a := range x.assocs.Records() {
		if a.TodoID == todoID {
			cats = append(cats, a.CategoryID)
		}
	}
	if len(cats) == 0 {
		delete(x.byTodo, todoID)
		return
	}
	slices.Sort(cats)
	x.byTodo[todoID] = slices.Compact(cats)
}

// rebuild recomputes every entry.
func (x *categoryIndex) rebuild() {
	x.byTodo = linkedCategories(x.assocs.Records())
}

// categories returns the category ids of a todo. Pending todos have none.
func (x *categoryIndex) categories(id model.Identity) []string {
	if !id.IsConfirmed() {
		return nil
	}
	return x.byTodo[id.Value()]
}

// findPair returns the association, pending or confirmed, linking the pair.
func (e *Engine) findPair(todoID, categoryID string) (model.Association, bool) {
	return e.assocs.coll.Find(func(a model.Association) bool {
		return a.TodoID == todoID && a.CategoryID == categoryID
	})
}

// checkPair verifies both ends of an association are confirmed and present.
func (e *Engine) checkPair(todoID, categoryID model.Identity) error {
	if !todoID.IsConfirmed() || !e.todos.coll.Contains(todoID) {
		return &NotFoundError{Table: model.TableTodos, ID: todoID}
	}
	if !categoryID.IsConfirmed() || !e.categories.coll.Contains(categoryID) {
		return &NotFoundError{Table: model.TableCategories, ID: categoryID}
	}
	return nil
}

// dropLinks removes, under op, every association matching pred. Returns the
// ids of the todos whose categories changed.
func (e *Engine) dropLinks(op collection.OpID, pred func(model.Association) bool) ([]journal, []string) {
	var affected []string
	for _, a := range e.assocs.coll.Records() {
		if pred(a) && !slices.Contains(affected, a.TodoID) {
			affected = append(affected, a.TodoID)
		}
	}
	if len(affected) == 0 {
		return nil, nil
	}
	if err := begin(op, e.assocs.coll); err != nil {
		e.logger.Error("cascade begin failed", "table", model.TableTodoCategories, "error", err)
		return nil, nil
	}
	_ = e.assocs.coll.Do(op, func(v *collection.View[model.Association]) {
		for _, a := range v.Records() {
			if pred(a) {
				v.Remove(a.ID)
			}
		}
	})
	return []journal{e.assocs.coll}, affected
}

// Associate links a todo to a category.
//
// Both ids must name confirmed records present locally. Associating a pair
// that is already linked, or being linked, issues no request and returns a
// resolved op.
func (t *Todos) Associate(ctx context.Context, todoID, categoryID model.Identity) (*Op[model.Association], error) {
	e := t.e
	var op *Op[model.Association]
	err := e.submit(ctx, "todos.associate", func() (err error) {
		if err := e.checkPair(todoID, categoryID); err != nil {
			return err
		}
		if existing, ok := e.findPair(todoID.Value(), categoryID.Value()); ok {
			e.metrics.Mutations.WithLabelValues(model.TableTodoCategories, remote.OpInsert, outcomeNoop).Inc()
			op = resolvedOp(existing)
			return nil
		}
		rec := model.Association{
			ID:         model.Pending(e.tokens.Generate()),
			Owner:      e.owner,
			TodoID:     todoID.Value(),
			CategoryID: categoryID.Value(),
			CreatedAt:  e.now(),
		}
		row := model.Row{
			model.ColOwner:      e.owner,
			model.ColTodoID:     rec.TodoID,
			model.ColCategoryID: rec.CategoryID,
		}
		op, err = insert(e, e.assocs, rec, row, func(a model.Association) { e.index.refresh(a.TodoID) })
		return err
	})
	return op, err
}

// Disassociate unlinks a todo from a category. Unlinking a pair that is not
// linked issues no request and returns a resolved op; a link that is still
// pending cannot be removed yet.
func (t *Todos) Disassociate(ctx context.Context, todoID, categoryID model.Identity) (*Op[model.Association], error) {
	e := t.e
	var op *Op[model.Association]
	err := e.submit(ctx, "todos.disassociate", func() (err error) {
		if err := e.checkPair(todoID, categoryID); err != nil {
			return err
		}
		existing, ok := e.findPair(todoID.Value(), categoryID.Value())
		if !ok {
			e.metrics.Mutations.WithLabelValues(model.TableTodoCategories, remote.OpDelete, outcomeNoop).Inc()
			op = resolvedOp(model.Association{TodoID: todoID.Value(), CategoryID: categoryID.Value()})
			return nil
		}
		key := model.AssociationKeyRow(existing.TodoID, existing.CategoryID)
		op, err = remove(e, e.assocs, existing.ID, key, nil, func(bool) { e.index.refresh(existing.TodoID) })
		return err
	})
	return op, err
}

// ApplyAssociation folds one association change event and waits for it.
func (t *Todos) ApplyAssociation(ctx context.Context, ch model.Change[model.Association]) error {
	e := t.e
	return e.submit(ctx, "fold", func() error {
		fold(e, e.assocs, ch, e.afterAssociationFold)
		e.publish()
		return nil
	})
}
