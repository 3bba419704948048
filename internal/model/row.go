package model

import (
	"fmt"
	"strconv"
	"time"
)

// Table names understood by every remote store.
const (
	TableTodos          = "todos"
	TableCategories     = "categories"
	TableTodoCategories = "todo_categories"
)

// Column names shared by the tables.
const (
	ColID         = "id"
	ColOwner      = "user_id"
	ColTitle      = "title"
	ColIsComplete = "is_complete"
	ColCreatedAt  = "created_at"
	ColUpdatedAt  = "updated_at"
	ColTodoID     = "todo_id"
	ColCategoryID = "category_id"
)

// Row is one record as exchanged with a remote store.
//
// Values are strings, bools, int64 or time.Time. Rows that crossed a JSON
// boundary carry timestamps as RFC 3339 strings; the accessors accept both.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the string value of col.
func (r Row) String(col string) (string, error) {
	switch v := r[col].(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("column %s: missing", col)
	default:
		return "", fmt.Errorf("column %s: expected string, got %T", col, v)
	}
}

// Bool returns the boolean value of col. Missing columns are false.
func (r Row) Bool(col string) (bool, error) {
	switch v := r[col].(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	case int64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("column %s: %w", col, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("column %s: expected bool, got %T", col, v)
	}
}

// Time returns the timestamp value of col, in UTC.
func (r Row) Time(col string) (time.Time, error) {
	switch v := r[col].(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		return parseTime(col, v)
	case []byte:
		return parseTime(col, string(v))
	case nil:
		return time.Time{}, fmt.Errorf("column %s: missing", col)
	default:
		return time.Time{}, fmt.Errorf("column %s: expected timestamp, got %T", col, v)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTime(col, s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("column %s: unrecognized timestamp %q", col, s)
}

// Row encodes the todo. Pending todos have no id column.
func (t Todo) Row() Row {
	row := Row{
		ColOwner:      t.Owner,
		ColTitle:      t.Title,
		ColIsComplete: t.IsComplete,
		ColCreatedAt:  t.CreatedAt,
		ColUpdatedAt:  t.UpdatedAt,
	}
	if t.ID.IsConfirmed() {
		row[ColID] = t.ID.Value()
	}
	return row
}

// TodoFromRow decodes a complete todo row.
func TodoFromRow(r Row) (Todo, error) {
	id, err := r.String(ColID)
	if err != nil {
		return Todo{}, fmt.Errorf("decode todo: %w", err)
	}
	owner, err := r.String(ColOwner)
	if err != nil {
		return Todo{}, fmt.Errorf("decode todo %s: %w", id, err)
	}
	title, err := r.String(ColTitle)
	if err != nil {
		return Todo{}, fmt.Errorf("decode todo %s: %w", id, err)
	}
	complete, err := r.Bool(ColIsComplete)
	if err != nil {
		return Todo{}, fmt.Errorf("decode todo %s: %w", id, err)
	}
	created, err := r.Time(ColCreatedAt)
	if err != nil {
		return Todo{}, fmt.Errorf("decode todo %s: %w", id, err)
	}
	updated, err := r.Time(ColUpdatedAt)
	if err != nil {
		updated = created
	}
	return Todo{
		ID:         Confirmed(id),
		Owner:      owner,
		Title:      title,
		IsComplete: complete,
		CreatedAt:  created,
		UpdatedAt:  updated,
	}, nil
}

// Row encodes the category.
func (c Category) Row() Row {
	row := Row{
		ColOwner:     c.Owner,
		ColTitle:     c.Title,
		ColCreatedAt: c.CreatedAt,
		ColUpdatedAt: c.UpdatedAt,
	}
	if c.ID.IsConfirmed() {
		row[ColID] = c.ID.Value()
	}
	return row
}

// CategoryFromRow decodes a complete category row.
func CategoryFromRow(r Row) (Category, error) {
	id, err := r.String(ColID)
	if err != nil {
		return Category{}, fmt.Errorf("decode category: %w", err)
	}
	owner, err := r.String(ColOwner)
	if err != nil {
		return Category{}, fmt.Errorf("decode category %s: %w", id, err)
	}
	title, err := r.String(ColTitle)
	if err != nil {
		return Category{}, fmt.Errorf("decode category %s: %w", id, err)
	}
	created, err := r.Time(ColCreatedAt)
	if err != nil {
		return Category{}, fmt.Errorf("decode category %s: %w", id, err)
	}
	updated, err := r.Time(ColUpdatedAt)
	if err != nil {
		updated = created
	}
	return Category{
		ID:        Confirmed(id),
		Owner:     owner,
		Title:     title,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

// Row encodes the association. The pair is its key; there is no id column.
func (a Association) Row() Row {
	return Row{
		ColOwner:      a.Owner,
		ColTodoID:     a.TodoID,
		ColCategoryID: a.CategoryID,
		ColCreatedAt:  a.CreatedAt,
	}
}

// AssociationFromRow decodes a complete association row.
func AssociationFromRow(r Row) (Association, error) {
	todoID, categoryID, err := associationPair(r)
	if err != nil {
		return Association{}, err
	}
	owner, err := r.String(ColOwner)
	if err != nil {
		return Association{}, fmt.Errorf("decode association %s: %w", AssociationKey(todoID, categoryID), err)
	}
	created, err := r.Time(ColCreatedAt)
	if err != nil {
		return Association{}, fmt.Errorf("decode association %s: %w", AssociationKey(todoID, categoryID), err)
	}
	return Association{
		ID:         AssociationID(todoID, categoryID),
		Owner:      owner,
		TodoID:     todoID,
		CategoryID: categoryID,
		CreatedAt:  created,
	}, nil
}

// AssociationKeyRow returns the key columns addressing one association.
func AssociationKeyRow(todoID, categoryID string) Row {
	return Row{ColTodoID: todoID, ColCategoryID: categoryID}
}

func associationPair(r Row) (string, string, error) {
	todoID, err := r.String(ColTodoID)
	if err != nil {
		return "", "", fmt.Errorf("decode association: %w", err)
	}
	categoryID, err := r.String(ColCategoryID)
	if err != nil {
		return "", "", fmt.Errorf("decode association: %w", err)
	}
	return todoID, categoryID, nil
}
