package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/todosync/internal/collection"
	"github.com/roach88/todosync/internal/model"
)

// TodoView is a todo with the ids of the categories it is linked to, in
// ascending order. Pending associations are included.
type TodoView struct {
	model.Todo
	Categories []string
}

// Canonical returns the view as a canonical map.
func (v TodoView) Canonical() map[string]any {
	m := v.Todo.Canonical()
	m["categories"] = slices.Clone(v.Categories)
	return m
}

// KindStatus is the load state of one entity kind.
type KindStatus struct {
	Loading   bool
	LastError error
}

// Snapshot is an immutable view of the engine state, published after every
// loop task that changed something. Readers must not modify it.
type Snapshot struct {
	// Version increases with every publish.
	Version uint64

	Todos        []TodoView
	Categories   []model.Category
	Associations []model.Association
	Filter       Filter

	TodosStatus      KindStatus
	CategoriesStatus KindStatus

	visible []TodoView
}

// Visible returns the todos that pass the filter, in order.
func (s *Snapshot) Visible() []TodoView { return s.visible }

// Todo returns the todo with id.
func (s *Snapshot) Todo(id model.Identity) (TodoView, bool) {
	for _, t := range s.Todos {
		if t.ID == id {
			return t, true
		}
	}
	return TodoView{}, false
}

// Category returns the category with id.
func (s *Snapshot) Category(id model.Identity) (model.Category, bool) {
	for _, c := range s.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return model.Category{}, false
}

// Canonical returns the snapshot data as a canonical map. Load status is
// left out; two snapshots with the same records and filter are equal.
func (s *Snapshot) Canonical() map[string]any {
	todos := make([]any, len(s.Todos))
	for i, t := range s.Todos {
		todos[i] = t.Canonical()
	}
	categories := make([]any, len(s.Categories))
	for i, c := range s.Categories {
		categories[i] = c.Canonical()
	}
	assocs := make([]any, len(s.Associations))
	for i, a := range s.Associations {
		assocs[i] = a.Canonical()
	}
	return map[string]any{
		"todos":        todos,
		"categories":   categories,
		"associations": assocs,
		"filter":       s.Filter.String(),
	}
}

// Digest hashes the canonical form of the snapshot.
func (s *Snapshot) Digest() (string, error) {
	return model.Digest(model.DomainSnapshot, s.Canonical())
}

// Check verifies the snapshot invariants: unique identities ordered newest
// first in every list, and category lists that match the live associations
// exactly.
func (s *Snapshot) Check() error {
	todos := make([]model.Todo, len(s.Todos))
	for i, t := range s.Todos {
		todos[i] = t.Todo
	}
	if err := collection.Check(todos); err != nil {
		return fmt.Errorf("todos: %w", err)
	}
	if err := collection.Check(s.Categories); err != nil {
		return fmt.Errorf("categories: %w", err)
	}
	if err := collection.Check(s.Associations); err != nil {
		return fmt.Errorf("associations: %w", err)
	}

	pairs := make(map[string]bool, len(s.Associations))
	for _, a := range s.Associations {
		if pairs[a.Key()] {
			return fmt.Errorf("associations: pair %s appears twice", a.Key())
		}
		pairs[a.Key()] = true
	}

	want := linkedCategories(s.Associations)
	for _, t := range s.Todos {
		if !t.ID.IsConfirmed() {
			if len(t.Categories) > 0 {
				return fmt.Errorf("todo %s: pending todo has categories", t.ID)
			}
			continue
		}
		if !slices.Equal(t.Categories, want[t.ID.Value()]) {
			return fmt.Errorf("todo %s: categories %v, associations say %v", t.ID, t.Categories, want[t.ID.Value()])
		}
	}
	return nil
}

// linkedCategories maps each todo id to its sorted category ids.
func linkedCategories(assocs []model.Association) map[string][]string {
	out := make(map[string][]string)
	for _, a := range assocs {
		out[a.TodoID] = append(out[a.TodoID], a.CategoryID)
	}
	for id, cats := range out {
		slices.Sort(cats)
		out[id] = slices.Compact(cats)
	}
	return out
}
