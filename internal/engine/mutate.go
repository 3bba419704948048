package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/todosync/internal/collection"
	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/query"
	"github.com/roach88/todosync/internal/remote"
)

// kindState is the loop-owned state of one entity kind.
type kindState[T collection.Record[T]] struct {
	table        string
	coll         *collection.Collection[T]
	decode       func(model.Row) (T, error)
	decodeChange func(model.RowChange) (model.Change[T], error)

	// st is shared between todos and associations: association failures
	// surface on the todo handle.
	st *loadStatus

	// updates lists the in-flight update ops per record, oldest first.
	updates map[model.Identity][]collection.OpID
}

// loadStatus is what a handle reports as Loading and LastError.
type loadStatus struct {
	loading int
	lastErr error
}

func newKindState[T collection.Record[T]](
	table string,
	decode func(model.Row) (T, error),
	decodeChange func(model.RowChange) (model.Change[T], error),
	opts ...collection.Option,
) *kindState[T] {
	return &kindState[T]{
		table:        table,
		coll:         collection.New[T](opts...),
		decode:       decode,
		decodeChange: decodeChange,
		st:           &loadStatus{},
		updates:      make(map[model.Identity][]collection.OpID),
	}
}

// journal is the part of a collection an operation spanning several kinds
// needs.
type journal interface {
	Begin(collection.OpID) error
	Commit(collection.OpID)
	Abort(collection.OpID)
}

func begin(op collection.OpID, js ...journal) error {
	for i, j := range js {
		if err := j.Begin(op); err != nil {
			for _, prev := range js[:i] {
				prev.Abort(op)
			}
			return err
		}
	}
	return nil
}

// insert prepends rec under a new op, then sends row to the remote store.
// On success the placeholder is confirmed; on failure the op is rolled back.
// touched refreshes derived state after each step.
func insert[T collection.Record[T]](e *Engine, k *kindState[T], rec T, row model.Row, touched func(T)) (*Op[T], error) {
	id := e.ops.Next()
	if err := begin(id, k.coll); err != nil {
		return nil, err
	}
	_ = k.coll.Do(id, func(v *collection.View[T]) { v.Prepend(rec) })
	if touched != nil {
		touched(rec)
	}
	e.publish()
	e.logger.Debug("optimistic insert", "table", k.table, "pending", rec.Identity().String())

	op := newOp(id, rec)
	pending := rec.Identity()
	var result T
	e.dispatch(k.table+".insert",
		func(ctx context.Context) error {
			out, err := e.client.Insert(ctx, k.table, row)
			if err != nil {
				return err
			}
			result, err = k.decode(out)
			return err
		},
		func(err error) {
			if err != nil {
				rollback(e, k, op, remote.OpInsert, err, k.coll)
			} else {
				_ = k.coll.Do(id, func(v *collection.View[T]) { v.Confirm(pending, result) })
				confirm(e, k, op, remote.OpInsert, result, k.coll)
			}
			if touched != nil {
				touched(rec)
			}
			e.publish()
		},
		func(err error) { abandon(k, op, remote.OpInsert, err) },
	)
	return op, nil
}

// update applies apply to the record with id under a new op, then sends
// patch to the remote store. The confirmed record replaces the local one.
func update[T collection.Record[T]](e *Engine, k *kindState[T], id model.Identity, apply func(T) T, patch model.Row) (*Op[T], error) {
	cur, ok := k.coll.Get(id)
	if !ok || !id.IsConfirmed() {
		return nil, &NotFoundError{Table: k.table, ID: id}
	}
	opID := e.ops.Next()
	if err := begin(opID, k.coll); err != nil {
		return nil, err
	}
	_ = k.coll.Do(opID, func(v *collection.View[T]) { v.Update(id, apply) })
	k.updates[id] = append(k.updates[id], opID)
	e.publish()

	op := newOp(opID, apply(cur))
	var result T
	e.dispatch(k.table+".update",
		func(ctx context.Context) error {
			out, err := e.client.Update(ctx, k.table, e.owner, id.Value(), patch)
			if err != nil {
				return err
			}
			result, err = k.decode(out)
			return err
		},
		func(err error) {
			k.settleUpdate(id, opID)
			if err != nil {
				rollback(e, k, op, remote.OpUpdate, err, k.coll)
			} else {
				// Later in-flight edits of the same record replay on top.
				_ = k.coll.Settle(opID, func(v *collection.View[T]) { v.Replace(result) }, k.updates[id]...)
				confirm(e, k, op, remote.OpUpdate, result, k.coll)
			}
			e.publish()
		},
		func(err error) { abandon(k, op, remote.OpUpdate, err) },
	)
	return op, nil
}

// settleUpdate drops op from the in-flight updates of id.
func (k *kindState[T]) settleUpdate(id model.Identity, op collection.OpID) {
	rest := slices.DeleteFunc(k.updates[id], func(o collection.OpID) bool { return o == op })
	if len(rest) == 0 {
		delete(k.updates, id)
		return
	}
	k.updates[id] = rest
}

// remove deletes the record with id under a new op, then sends the delete
// keyed by key. cascade, if set, runs under the same op after the removal
// and returns the extra journals it touched. touched refreshes derived state
// after the optimistic step and again once the op settles, with rolledBack
// set if the delete failed.
func remove[T collection.Record[T]](
	e *Engine,
	k *kindState[T],
	id model.Identity,
	key model.Row,
	cascade func(collection.OpID) []journal,
	touched func(rolledBack bool),
) (*Op[T], error) {
	cur, ok := k.coll.Get(id)
	if !ok || !id.IsConfirmed() {
		return nil, &NotFoundError{Table: k.table, ID: id}
	}
	opID := e.ops.Next()
	if err := begin(opID, k.coll); err != nil {
		return nil, err
	}
	_ = k.coll.Do(opID, func(v *collection.View[T]) { v.Remove(id) })
	js := []journal{k.coll}
	if cascade != nil {
		js = append(js, cascade(opID)...)
	}
	if touched != nil {
		touched(false)
	}
	e.publish()
	e.logger.Debug("optimistic delete", "table", k.table, "id", id.String())

	op := newOp(opID, cur)
	e.dispatch(k.table+".delete",
		func(ctx context.Context) error {
			return e.client.Delete(ctx, k.table, e.owner, key)
		},
		func(err error) {
			if err != nil {
				rollback(e, k, op, remote.OpDelete, err, js...)
			} else {
				confirm(e, k, op, remote.OpDelete, cur, js...)
			}
			if touched != nil {
				touched(err != nil)
			}
			e.publish()
		},
		func(err error) { abandon(k, op, remote.OpDelete, err) },
	)
	return op, nil
}

// confirm commits op in every journal it touched and resolves it.
func confirm[T collection.Record[T]](e *Engine, k *kindState[T], op *Op[T], verb string, result T, js ...journal) {
	for _, j := range js {
		j.Commit(op.id)
	}
	e.metrics.Mutations.WithLabelValues(k.table, verb, outcomeConfirmed).Inc()
	e.logger.Debug("mutation confirmed",
		"table", k.table,
		"op", verb,
		"pending", op.record.Identity().String(),
		"id", result.Identity().String(),
	)
	op.resolve(result, nil)
}

// rollback aborts op in every journal it touched, records the failure and
// resolves the op with a *MutationError.
func rollback[T collection.Record[T]](e *Engine, k *kindState[T], op *Op[T], verb string, cause error, js ...journal) {
	for _, j := range js {
		j.Abort(op.id)
	}
	err := &MutationError{Table: k.table, Op: verb, ID: op.record.Identity(), Err: cause}
	k.st.lastErr = err
	e.metrics.Rollbacks.WithLabelValues(k.table).Inc()
	e.metrics.Mutations.WithLabelValues(k.table, verb, outcomeRolledBack).Inc()
	e.logger.Warn("mutation rolled back",
		"table", k.table,
		"op", verb,
		"id", op.record.Identity().String(),
		"error", cause,
	)
	var zero T
	op.resolve(zero, err)
}

// abandon resolves an op whose completion arrived after the loop stopped.
// Local state is gone with the loop, so nothing is rolled back.
func abandon[T collection.Record[T]](k *kindState[T], op *Op[T], verb string, cause error) {
	err := ErrStopped
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrStopped, cause)
	}
	var zero T
	op.resolve(zero, &MutationError{Table: k.table, Op: verb, ID: op.record.Identity(), Err: err})
}

// fetch queries every row of k's table for the owner, newest first.
func fetch[T collection.Record[T]](ctx context.Context, e *Engine, k *kindState[T]) ([]T, error) {
	rows, err := e.client.Query(ctx, query.ForOwner(k.table, e.owner))
	if err != nil {
		return nil, &FetchError{Table: k.table, Err: err}
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		rec, err := k.decode(row)
		if err != nil {
			return nil, &FetchError{Table: k.table, Err: err}
		}
		out = append(out, rec)
	}
	return out, nil
}

// foldRow decodes one change event for k and folds it.
func foldRow[T collection.Record[T]](e *Engine, k *kindState[T], rc model.RowChange, after func(model.Change[T])) error {
	ch, err := k.decodeChange(rc)
	if err != nil {
		e.metrics.Discarded.WithLabelValues(k.table, reasonMalformed).Inc()
		e.logger.Warn("dropping malformed change event", "table", k.table, "error", err)
		return fmt.Errorf("fold %s: %w", k.table, err)
	}
	fold(e, k, ch, after)
	return nil
}

// fold merges a decoded change event into k.
func fold[T collection.Record[T]](e *Engine, k *kindState[T], ch model.Change[T], after func(model.Change[T])) collection.Outcome {
	outcome := k.coll.Fold(ch)
	if outcome == collection.Discarded {
		e.metrics.Discarded.WithLabelValues(k.table, reasonUnknownID).Inc()
		e.logger.Debug("discarding change event",
			"table", k.table,
			"kind", string(ch.Kind),
			"id", ch.Record.Identity().String(),
		)
	} else {
		e.metrics.Folds.WithLabelValues(k.table, string(ch.Kind)).Inc()
		e.logger.Debug("folded change event",
			"table", k.table,
			"kind", string(ch.Kind),
			"id", ch.Record.Identity().String(),
			"outcome", outcome.String(),
		)
	}
	if after != nil {
		after(ch)
	}
	return outcome
}

// loadTask is one fetch. open runs on the loop before the fetch is
// dispatched, then exactly one of apply or cancel runs on the loop.
type loadTask struct {
	open   func()
	fetch  func(context.Context) error
	apply  func()
	cancel func()
}

// load runs t.fetch on a remote goroutine and applies the result on the
// loop. Blocks until the fetch settles.
func (e *Engine) load(ctx context.Context, name string, st *loadStatus, t loadTask) error {
	result := make(chan error, 1)
	err := e.submit(ctx, name, func() error {
		st.loading++
		t.open()
		e.publish()
		e.dispatch(name,
			t.fetch,
			func(err error) {
				st.loading--
				if err != nil {
					t.cancel()
					st.lastErr = err
					e.logger.Error("load failed", "task", name, "owner", e.owner, "error", err)
				} else {
					t.apply()
					st.lastErr = nil
				}
				e.publish()
				result <- err
			},
			func(err error) {
				if err == nil {
					err = ErrStopped
				}
				result <- fmt.Errorf("%s: %w", name, err)
			},
		)
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *loadStatus) snapshot() KindStatus {
	return KindStatus{Loading: s.loading > 0, LastError: s.lastErr}
}
