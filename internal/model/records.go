package model

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyTitle is returned when a title is empty after normalization.
var ErrEmptyTitle = errors.New("title must not be empty")

// Todo is a single todo item owned by one user.
type Todo struct {
	ID         Identity  `json:"id"`
	Owner      string    `json:"user_id"`
	Title      string    `json:"title"`
	IsComplete bool      `json:"is_complete"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Identity returns the record identity.
func (t Todo) Identity() Identity { return t.ID }

// Created returns the ordering key.
func (t Todo) Created() time.Time { return t.CreatedAt }

// SameContent reports whether other carries the same user-entered fields.
// Used to pick the placeholder an incoming insert confirms.
func (t Todo) SameContent(other Todo) bool { return t.Title == other.Title }

// Category groups todos. Todos and categories are linked by Association.
type Category struct {
	ID        Identity  `json:"id"`
	Owner     string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identity returns the record identity.
func (c Category) Identity() Identity { return c.ID }

// Created returns the ordering key.
func (c Category) Created() time.Time { return c.CreatedAt }

// SameContent reports whether other carries the same title.
func (c Category) SameContent(other Category) bool { return c.Title == other.Title }

// Association links one todo to one category. At most one association
// exists per (TodoID, CategoryID) pair.
type Association struct {
	ID         Identity  `json:"id"`
	Owner      string    `json:"user_id"`
	TodoID     string    `json:"todo_id"`
	CategoryID string    `json:"category_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// AssociationKey returns the confirmed id of the association for a pair.
func AssociationKey(todoID, categoryID string) string {
	return todoID + ":" + categoryID
}

// AssociationID returns the confirmed identity of the association for a pair.
func AssociationID(todoID, categoryID string) Identity {
	return Confirmed(AssociationKey(todoID, categoryID))
}

// Identity returns the record identity.
func (a Association) Identity() Identity { return a.ID }

// Created returns the ordering key.
func (a Association) Created() time.Time { return a.CreatedAt }

// SameContent reports whether other links the same pair.
func (a Association) SameContent(other Association) bool {
	return a.TodoID == other.TodoID && a.CategoryID == other.CategoryID
}

// Key returns the pair key.
func (a Association) Key() string { return AssociationKey(a.TodoID, a.CategoryID) }

// TodoFields are the user-supplied fields of a new todo.
type TodoFields struct {
	Title string
}

// TodoPatch lists the todo fields to change. Nil fields are left unchanged.
type TodoPatch struct {
	Title      *string
	IsComplete *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p TodoPatch) IsEmpty() bool { return p.Title == nil && p.IsComplete == nil }

// Apply returns t with the patch applied.
func (p TodoPatch) Apply(t Todo) Todo {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.IsComplete != nil {
		t.IsComplete = *p.IsComplete
	}
	return t
}

// Row returns the patch as a partial row.
func (p TodoPatch) Row() Row {
	row := Row{}
	if p.Title != nil {
		row[ColTitle] = *p.Title
	}
	if p.IsComplete != nil {
		row[ColIsComplete] = *p.IsComplete
	}
	return row
}

// CategoryFields are the user-supplied fields of a new category.
type CategoryFields struct {
	Title string
}

// CategoryPatch lists the category fields to change.
type CategoryPatch struct {
	Title *string
}

// IsEmpty reports whether the patch changes nothing.
func (p CategoryPatch) IsEmpty() bool { return p.Title == nil }

// Apply returns c with the patch applied.
func (p CategoryPatch) Apply(c Category) Category {
	if p.Title != nil {
		c.Title = *p.Title
	}
	return c
}

// Row returns the patch as a partial row.
func (p CategoryPatch) Row() Row {
	row := Row{}
	if p.Title != nil {
		row[ColTitle] = *p.Title
	}
	return row
}

// NormalizeTitle trims surrounding whitespace and applies NFC normalization.
// Returns ErrEmptyTitle if nothing remains.
func NormalizeTitle(title string) (string, error) {
	t := norm.NFC.String(strings.TrimSpace(title))
	if t == "" {
		return "", ErrEmptyTitle
	}
	return t, nil
}
