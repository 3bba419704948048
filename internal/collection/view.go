package collection

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/roach88/todosync/internal/model"
)

// Record is implemented by every synchronized record type.
type Record[T any] interface {
	Identity() model.Identity
	Created() time.Time
	// SameContent reports whether other carries the same user-entered
	// fields. An incoming insert prefers a placeholder with the same content.
	SameContent(other T) bool
}

// Outcome describes what a fold did to a view.
type Outcome int

const (
	// Discarded means the event referenced nothing present.
	Discarded Outcome = iota
	// Inserted means a new record was prepended.
	Inserted
	// ReplacedPlaceholder means a pending record was replaced by its
	// confirmed counterpart.
	ReplacedPlaceholder
	// Replaced means a record with the same id was overwritten.
	Replaced
	// Removed means a record was deleted.
	Removed
)

func (o Outcome) String() string {
	switch o {
	case Discarded:
		return "discarded"
	case Inserted:
		return "inserted"
	case ReplacedPlaceholder:
		return "replaced_placeholder"
	case Replaced:
		return "replaced"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// View is an ordered set of records, newest first by Created.
type View[T Record[T]] struct {
	records []T
	strict  bool
}

func newView[T Record[T]](records []T, strict bool) *View[T] {
	return &View[T]{records: slices.Clone(records), strict: strict}
}

// Len returns the number of records.
func (v *View[T]) Len() int { return len(v.records) }

// Records returns a copy of the records in view order.
func (v *View[T]) Records() []T { return slices.Clone(v.records) }

// Index returns the position of the record with id, or -1.
func (v *View[T]) Index(id model.Identity) int {
	for i, r := range v.records {
		if r.Identity() == id {
			return i
		}
	}
	return -1
}

// Get returns the record with id.
func (v *View[T]) Get(id model.Identity) (T, bool) {
	if i := v.Index(id); i >= 0 {
		return v.records[i], true
	}
	var zero T
	return zero, false
}

// Prepend inserts r at the front and re-sorts.
func (v *View[T]) Prepend(r T) {
	v.records = slices.Insert(v.records, 0, r)
	v.Sort()
}

// Replace overwrites the record with r's id in place. Returns false if absent.
func (v *View[T]) Replace(r T) bool {
	i := v.Index(r.Identity())
	if i < 0 {
		return false
	}
	v.records[i] = r
	v.Sort()
	return true
}

// Update applies fn to the record with id. Returns false if absent.
func (v *View[T]) Update(id model.Identity, fn func(T) T) bool {
	i := v.Index(id)
	if i < 0 {
		return false
	}
	v.records[i] = fn(v.records[i])
	v.Sort()
	return true
}

// Remove deletes the record with id. Returns false if absent.
func (v *View[T]) Remove(id model.Identity) bool {
	i := v.Index(id)
	if i < 0 {
		return false
	}
	v.records = slices.Delete(v.records, i, i+1)
	return true
}

// Confirm reconciles the pending record with its confirmed counterpart r.
//
// If r is already present (the change stream delivered it first) it is
// refreshed and the pending record dropped. Otherwise the pending record is
// replaced in place, or r is prepended if the placeholder is gone.
func (v *View[T]) Confirm(pending model.Identity, r T) Outcome {
	outcome := Inserted
	if ri := v.Index(r.Identity()); ri >= 0 {
		v.records[ri] = r
		v.Remove(pending)
		outcome = Replaced
	} else if pi := v.Index(pending); pi >= 0 {
		v.records[pi] = r
		outcome = ReplacedPlaceholder
	} else {
		v.records = slices.Insert(v.records, 0, r)
	}
	v.Sort()
	return outcome
}

// Sort stably orders records by Created, newest first. Records with equal
// timestamps keep their relative order.
func (v *View[T]) Sort() {
	sort.SliceStable(v.records, func(i, j int) bool {
		return v.records[i].Created().After(v.records[j].Created())
	})
}

// placeholderFor returns the index of the pending record an insert of r
// should replace, or -1.
//
// A pending record with the same content wins. Otherwise the first pending
// record in view order is used, unless the view is strict.
func (v *View[T]) placeholderFor(r T) int {
	first := -1
	for i, rec := range v.records {
		if !rec.Identity().IsPending() {
			continue
		}
		if rec.SameContent(r) {
			return i
		}
		if first < 0 {
			first = i
		}
	}
	if v.strict {
		return -1
	}
	return first
}

// Fold merges one change-stream event into the view.
//
//   - insert: refresh in place if the id is present; else replace the
//     placeholder chosen by placeholderFor; else prepend
//   - update: replace by id in place; discard if absent
//   - delete: remove by id; discard if absent
//
// Folding the same event twice leaves the view as folding it once.
func (v *View[T]) Fold(ch model.Change[T]) Outcome {
	id := ch.Record.Identity()
	if !id.IsConfirmed() {
		return Discarded
	}

	switch ch.Kind {
	case model.ChangeInsert:
		if i := v.Index(id); i >= 0 {
			v.records[i] = ch.Record
			v.Sort()
			return Replaced
		}
		if i := v.placeholderFor(ch.Record); i >= 0 {
			v.records[i] = ch.Record
			v.Sort()
			return ReplacedPlaceholder
		}
		v.Prepend(ch.Record)
		return Inserted

	case model.ChangeUpdate:
		if v.Replace(ch.Record) {
			return Replaced
		}
		return Discarded

	case model.ChangeDelete:
		if v.Remove(id) {
			return Removed
		}
		return Discarded
	}
	return Discarded
}
