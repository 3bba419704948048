package remote

import "errors"

var (
	// ErrNotFound is returned when an update addresses no row.
	ErrNotFound = errors.New("row not found")

	// ErrUnauthorized is returned when a request carries no valid owner.
	ErrUnauthorized = errors.New("authentication required")

	// ErrConflict is returned when an insert violates a unique key.
	ErrConflict = errors.New("row already exists")

	// ErrClosed is returned by every call on a closed client.
	ErrClosed = errors.New("remote store closed")
)
