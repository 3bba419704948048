package engine

import (
	"context"

	"github.com/roach88/todosync/internal/collection"
)

// Op tracks one optimistic mutation until the remote store answers.
//
// The optimistic edit is already visible when the mutation call returns;
// Op reports whether it was confirmed or rolled back.
type Op[T any] struct {
	id     collection.OpID
	record T
	done   chan struct{}
	result T
	err    error
}

func newOp[T any](id collection.OpID, record T) *Op[T] {
	return &Op[T]{id: id, record: record, done: make(chan struct{})}
}

// resolvedOp returns an op that needed no remote request.
func resolvedOp[T any](record T) *Op[T] {
	op := newOp(collection.NoOp, record)
	op.resolve(record, nil)
	return op
}

// ID returns the journal id of the op, or collection.NoOp for an op that
// needed no remote request.
func (o *Op[T]) ID() collection.OpID { return o.id }

// Record returns the optimistic record as applied locally.
func (o *Op[T]) Record() T { return o.record }

// Done is closed once the op is confirmed or rolled back.
func (o *Op[T]) Done() <-chan struct{} { return o.done }

// Wait blocks until the op resolves and returns the confirmed record, or a
// *MutationError if it was rolled back.
func (o *Op[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Err returns the failure of a resolved op. It is nil while the op is in
// flight.
func (o *Op[T]) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// resolve must be called exactly once.
func (o *Op[T]) resolve(result T, err error) {
	o.result = result
	o.err = err
	close(o.done)
}
