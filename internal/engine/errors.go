package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/todosync/internal/model"
)

// ErrStopped is returned when the engine loop is not running anymore.
var ErrStopped = errors.New("engine stopped")

// ErrNotAuthenticated is returned when an engine is built without an owner.
var ErrNotAuthenticated = errors.New("not authenticated")

// FetchError reports a failed load. Local state is left unchanged.
type FetchError struct {
	Table string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Table, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MutationError reports a remote mutation that failed and was rolled back.
type MutationError struct {
	Table string
	Op    string
	ID    model.Identity
	Err   error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Table, e.ID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// NotFoundError reports a mutation addressing a record that is not present
// locally, or that is still pending.
type NotFoundError struct {
	Table string
	ID    model.Identity
}

func (e *NotFoundError) Error() string {
	if e.ID.IsPending() {
		return fmt.Sprintf("%s %s: not confirmed yet", e.Table, e.ID)
	}
	return fmt.Sprintf("%s %s: not found", e.Table, e.ID)
}

// IsFetchError returns true if err is or wraps a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsMutationError returns true if err is or wraps a MutationError.
func IsMutationError(err error) bool {
	var me *MutationError
	return errors.As(err, &me)
}

// IsNotFoundError returns true if err is or wraps a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
