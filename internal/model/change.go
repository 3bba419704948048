package model

import (
	"fmt"
	"strings"
)

// ChangeKind is the type of a change-stream event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Valid reports whether k is one of the known kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
		return true
	}
	return false
}

// ParseChangeKind accepts "insert", "UPDATE" and the like.
func ParseChangeKind(s string) (ChangeKind, error) {
	k := ChangeKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown change kind %q", s)
	}
	return k, nil
}

// Change is a typed change-stream event for one record.
//
// Delete events carry a record with only its identity fields set.
type Change[T any] struct {
	Kind   ChangeKind
	Record T
}

// RowChange is the untyped form of a change-stream event as delivered by a
// remote store subscription.
type RowChange struct {
	Table string     `json:"table"`
	Kind  ChangeKind `json:"type"`
	Row   Row        `json:"record"`
}

// DecodeTodoChange converts a row change on the todos table.
func DecodeTodoChange(rc RowChange) (Change[Todo], error) {
	if !rc.Kind.Valid() {
		return Change[Todo]{}, fmt.Errorf("decode todo change: unknown kind %q", rc.Kind)
	}
	if rc.Kind == ChangeDelete {
		id, err := rc.Row.String(ColID)
		if err != nil {
			return Change[Todo]{}, fmt.Errorf("decode todo delete: %w", err)
		}
		return Change[Todo]{Kind: ChangeDelete, Record: Todo{ID: Confirmed(id)}}, nil
	}
	t, err := TodoFromRow(rc.Row)
	if err != nil {
		return Change[Todo]{}, err
	}
	return Change[Todo]{Kind: rc.Kind, Record: t}, nil
}

// DecodeCategoryChange converts a row change on the categories table.
func DecodeCategoryChange(rc RowChange) (Change[Category], error) {
	if !rc.Kind.Valid() {
		return Change[Category]{}, fmt.Errorf("decode category change: unknown kind %q", rc.Kind)
	}
	if rc.Kind == ChangeDelete {
		id, err := rc.Row.String(ColID)
		if err != nil {
			return Change[Category]{}, fmt.Errorf("decode category delete: %w", err)
		}
		return Change[Category]{Kind: ChangeDelete, Record: Category{ID: Confirmed(id)}}, nil
	}
	c, err := CategoryFromRow(rc.Row)
	if err != nil {
		return Change[Category]{}, err
	}
	return Change[Category]{Kind: rc.Kind, Record: c}, nil
}

// DecodeAssociationChange converts a row change on the todo_categories table.
func DecodeAssociationChange(rc RowChange) (Change[Association], error) {
	if !rc.Kind.Valid() {
		return Change[Association]{}, fmt.Errorf("decode association change: unknown kind %q", rc.Kind)
	}
	if rc.Kind == ChangeDelete {
		todoID, categoryID, err := associationPair(rc.Row)
		if err != nil {
			return Change[Association]{}, err
		}
		return Change[Association]{Kind: ChangeDelete, Record: Association{
			ID:         AssociationID(todoID, categoryID),
			TodoID:     todoID,
			CategoryID: categoryID,
		}}, nil
	}
	a, err := AssociationFromRow(rc.Row)
	if err != nil {
		return Change[Association]{}, err
	}
	return Change[Association]{Kind: rc.Kind, Record: a}, nil
}
