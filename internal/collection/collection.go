package collection

import (
	"fmt"
	"slices"

	"github.com/roach88/todosync/internal/model"
)

// OpID identifies one in-flight mutation. Zero is reserved for steps that
// belong to no mutation (change-stream folds).
type OpID int64

// NoOp tags steps that belong to no mutation.
const NoOp OpID = 0

// Option configures a Collection.
type Option func(*options)

type options struct {
	strict bool
}

// StrictPlaceholders makes inserts replace a pending record only when its
// content matches. Used for associations, where a placeholder for one pair
// must never be taken by a different pair.
func StrictPlaceholders() Option {
	return func(o *options) { o.strict = true }
}

type step[T Record[T]] struct {
	op    OpID
	seq   uint64
	apply func(*View[T])
	dead  bool
}

// Window marks a fetch in flight. Steps taken after the window opened are
// replayed on top of the fetched records when it is reset.
type Window struct {
	seq    uint64
	ops    map[OpID]struct{}
	closed bool
}

// Collection is the journaled state of one entity kind.
//
// While any operation or window is open, view == replay(base, live steps).
// Otherwise nothing is journaled and base is refreshed on the next Begin.
type Collection[T Record[T]] struct {
	view    *View[T]
	base    []T
	steps   []step[T]
	seq     uint64
	open    map[OpID]struct{}
	windows int
	strict  bool
}

// New creates an empty collection.
func New[T Record[T]](opts ...Option) *Collection[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Collection[T]{
		view:   newView[T](nil, o.strict),
		open:   make(map[OpID]struct{}),
		strict: o.strict,
	}
}

// Len returns the number of records.
func (c *Collection[T]) Len() int { return c.view.Len() }

// Records returns a copy of the records in view order.
func (c *Collection[T]) Records() []T { return c.view.Records() }

// Get returns the record with id.
func (c *Collection[T]) Get(id model.Identity) (T, bool) { return c.view.Get(id) }

// Contains reports whether a record with id is present.
func (c *Collection[T]) Contains(id model.Identity) bool { return c.view.Index(id) >= 0 }

// Find returns the first record, in view order, matching pred.
func (c *Collection[T]) Find(pred func(T) bool) (T, bool) {
	for _, r := range c.view.records {
		if pred(r) {
			return r, true
		}
	}
	var zero T
	return zero, false
}

// Pending returns the number of records with a pending identity.
func (c *Collection[T]) Pending() int {
	n := 0
	for _, r := range c.view.records {
		if r.Identity().IsPending() {
			n++
		}
	}
	return n
}

// OpenOps returns the number of operations begun and not yet committed or
// aborted.
func (c *Collection[T]) OpenOps() int { return len(c.open) }

// Begin opens an operation. Its steps are journaled until Commit or Abort.
func (c *Collection[T]) Begin(op OpID) error {
	if op == NoOp {
		return fmt.Errorf("begin: op id must be non-zero")
	}
	if _, ok := c.open[op]; ok {
		return fmt.Errorf("begin: op %d already open", op)
	}
	c.startJournal()
	c.open[op] = struct{}{}
	return nil
}

// OpenWindow starts journaling for a fetch that is about to be dispatched.
// Close it with Reset once the fetch returns, or CloseWindow if it fails.
func (c *Collection[T]) OpenWindow() *Window {
	c.startJournal()
	c.windows++
	w := &Window{seq: c.seq + 1, ops: make(map[OpID]struct{}, len(c.open))}
	for op := range c.open {
		w.ops[op] = struct{}{}
	}
	return w
}

// CloseWindow ends w without touching the records.
func (c *Collection[T]) CloseWindow(w *Window) {
	if w == nil || w.closed {
		return
	}
	w.closed = true
	c.windows--
	c.compact()
}

func (c *Collection[T]) journaling() bool {
	return len(c.open) > 0 || c.windows > 0
}

// startJournal snapshots the view as the journal base. Unjournaled steps
// may have run since the last compaction.
func (c *Collection[T]) startJournal() {
	if c.journaling() {
		return
	}
	c.base = slices.Clone(c.view.records)
	c.steps = nil
}

// Do applies fn to the view and journals it under op.
//
// fn must be deterministic: it is replayed when an earlier operation aborts
// or the collection is reset.
func (c *Collection[T]) Do(op OpID, fn func(*View[T])) error {
	if op != NoOp {
		if _, ok := c.open[op]; !ok {
			return fmt.Errorf("do: op %d is not open", op)
		}
	}
	fn(c.view)
	if c.journaling() {
		c.seq++
		c.steps = append(c.steps, step[T]{op: op, seq: c.seq, apply: fn})
	}
	return nil
}

// Settle applies fn under op, then replays on top of it the steps that the
// still-open operations in replay took after op began. Used to confirm an
// update without overwriting later in-flight edits of the same record; the
// replayed steps must be idempotent.
func (c *Collection[T]) Settle(op OpID, fn func(*View[T]), replay ...OpID) error {
	if _, ok := c.open[op]; !ok {
		return fmt.Errorf("settle: op %d is not open", op)
	}
	first := slices.IndexFunc(c.steps, func(s step[T]) bool { return s.op == op && !s.dead })
	var later []step[T]
	if first >= 0 {
		for _, s := range c.steps[first+1:] {
			if _, open := c.open[s.op]; open && !s.dead && s.op != op && slices.Contains(replay, s.op) {
				later = append(later, s)
			}
		}
	}
	if err := c.Do(op, fn); err != nil {
		return err
	}
	for _, s := range later {
		if err := c.Do(s.op, s.apply); err != nil {
			return err
		}
	}
	return nil
}

// Fold merges one change-stream event. See View.Fold.
func (c *Collection[T]) Fold(ch model.Change[T]) Outcome {
	var outcome Outcome
	first := true
	// Do only fails for non-zero op ids.
	_ = c.Do(NoOp, func(v *View[T]) {
		o := v.Fold(ch)
		if first {
			outcome = o
			first = false
		}
	})
	return outcome
}

// Commit closes op. Its steps stay in effect.
func (c *Collection[T]) Commit(op OpID) {
	delete(c.open, op)
	c.compact()
}

// Abort closes op and undoes its steps.
//
// The view is rebuilt from the journal base with every other live step
// replayed, so steps that interleaved with op survive the rollback.
func (c *Collection[T]) Abort(op OpID) {
	if _, ok := c.open[op]; !ok {
		return
	}
	for i := range c.steps {
		if c.steps[i].op == op {
			c.steps[i].dead = true
		}
	}
	delete(c.open, op)
	c.rebuild()
	c.compact()
}

// Reset replaces the collection contents with records fetched while w was
// open, and closes w. Replayed on top are the steps of operations open when
// w opened or still open now, and every step taken after w opened, change
// stream folds included. Older folds are dropped: the fetch supersedes them.
//
// A nil w resets outside any window: only steps of open operations survive.
func (c *Collection[T]) Reset(w *Window, records []T) {
	base := newView(records, c.strict)
	base.Sort()
	c.base = base.records

	live := c.steps[:0]
	for _, s := range c.steps {
		if !s.dead && c.keep(w, s) {
			live = append(live, s)
		}
	}
	c.steps = live
	if w != nil && !w.closed {
		w.closed = true
		c.windows--
	}
	c.rebuild()
	c.compact()
}

func (c *Collection[T]) keep(w *Window, s step[T]) bool {
	if _, ok := c.open[s.op]; ok && s.op != NoOp {
		return true
	}
	if w == nil {
		return false
	}
	if s.seq >= w.seq {
		return true
	}
	_, ok := w.ops[s.op]
	return ok && s.op != NoOp
}

func (c *Collection[T]) rebuild() {
	v := newView(c.base, c.strict)
	for _, s := range c.steps {
		if !s.dead {
			s.apply(v)
		}
	}
	c.view = v
}

func (c *Collection[T]) compact() {
	if c.journaling() {
		return
	}
	c.base = slices.Clone(c.view.records)
	c.steps = nil
}

// Check verifies the structural invariants of records: identities are
// unique and non-zero, and the order is non-increasing in Created.
func Check[T Record[T]](records []T) error {
	seen := make(map[model.Identity]int, len(records))
	for i, r := range records {
		id := r.Identity()
		if id.IsZero() {
			return fmt.Errorf("record %d has no identity", i)
		}
		if j, dup := seen[id]; dup {
			return fmt.Errorf("identity %s appears at %d and %d", id, j, i)
		}
		seen[id] = i
		if i > 0 && r.Created().After(records[i-1].Created()) {
			return fmt.Errorf("record %s at %d is newer than its predecessor", id, i)
		}
	}
	return nil
}
