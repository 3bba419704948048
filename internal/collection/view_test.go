package collection

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/todosync/internal/model"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// at returns t0 shifted by n seconds.
func at(n int) time.Time { return t0.Add(time.Duration(n) * time.Second) }

func confirmed(id, title string, created int) model.Todo {
	return model.Todo{ID: model.Confirmed(id), Owner: "u1", Title: title, CreatedAt: at(created), UpdatedAt: at(created)}
}

func pending(token, title string, created int) model.Todo {
	return model.Todo{ID: model.Pending(token), Owner: "u1", Title: title, CreatedAt: at(created), UpdatedAt: at(created)}
}

func insert(r model.Todo) model.Change[model.Todo] {
	return model.Change[model.Todo]{Kind: model.ChangeInsert, Record: r}
}

func update(r model.Todo) model.Change[model.Todo] {
	return model.Change[model.Todo]{Kind: model.ChangeUpdate, Record: r}
}

func remove(id string) model.Change[model.Todo] {
	return model.Change[model.Todo]{Kind: model.ChangeDelete, Record: model.Todo{ID: model.Confirmed(id)}}
}

func ids(records []model.Todo) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID.String()
	}
	return out
}

func TestFold_InsertPrependsWhenNoPending(t *testing.T) {
	v := newView([]model.Todo{confirmed("a", "A", 1)}, false)

	outcome := v.Fold(insert(confirmed("b", "B", 2)))

	assert.Equal(t, Inserted, outcome)
	assert.Equal(t, []string{"b", "a"}, ids(v.Records()))
}

func TestFold_InsertReplacesSinglePlaceholderInPlace(t *testing.T) {
	v := newView([]model.Todo{pending("p1", "Buy milk", 5), confirmed("a", "A", 1)}, false)

	// Content differs: a single placeholder is taken regardless.
	outcome := v.Fold(insert(confirmed("t1", "Buy eggs", 5)))

	assert.Equal(t, ReplacedPlaceholder, outcome)
	assert.Equal(t, []string{"t1", "a"}, ids(v.Records()))
}

func TestFold_InsertPrefersContentMatch(t *testing.T) {
	v := newView([]model.Todo{
		pending("p2", "second", 6),
		pending("p1", "first", 5),
	}, false)

	v.Fold(insert(confirmed("t1", "first", 5)))

	assert.Equal(t, []string{"temp_p2", "t1"}, ids(v.Records()))
}

func TestFold_InsertFallsBackToFirstPending(t *testing.T) {
	v := newView([]model.Todo{
		pending("p2", "second", 6),
		pending("p1", "first", 5),
	}, false)

	v.Fold(insert(confirmed("x", "unrelated", 4)))

	got := ids(v.Records())
	assert.Equal(t, []string{"temp_p1", "x"}, got)
}

func TestFold_InsertDuplicateDelivery(t *testing.T) {
	v := newView([]model.Todo{pending("p1", "A", 3)}, false)

	v.Fold(insert(confirmed("t1", "A", 3)))
	v.Fold(insert(confirmed("t1", "A", 3)))

	require.Equal(t, 1, v.Len())
	assert.Equal(t, model.Confirmed("t1"), v.Records()[0].ID)
}

func TestFold_InsertWithExistingIDDoesNotTakePlaceholder(t *testing.T) {
	v := newView([]model.Todo{pending("p1", "A", 3), confirmed("t1", "old", 1)}, false)

	outcome := v.Fold(insert(confirmed("t1", "new", 1)))

	assert.Equal(t, Replaced, outcome)
	assert.Equal(t, []string{"temp_p1", "t1"}, ids(v.Records()))
	assert.Equal(t, "new", v.Records()[1].Title)
}

func TestFold_StrictPlaceholdersRequireMatch(t *testing.T) {
	p := model.Association{ID: model.Pending("p"), TodoID: "t1", CategoryID: "c1", CreatedAt: at(1)}
	v := newView([]model.Association{p}, true)

	other := model.Association{ID: model.AssociationID("t1", "c2"), TodoID: "t1", CategoryID: "c2", CreatedAt: at(1)}
	v.Fold(model.Change[model.Association]{Kind: model.ChangeInsert, Record: other})
	assert.Equal(t, 2, v.Len())

	match := model.Association{ID: model.AssociationID("t1", "c1"), TodoID: "t1", CategoryID: "c1", CreatedAt: at(1)}
	assert.Equal(t, ReplacedPlaceholder, v.Fold(model.Change[model.Association]{Kind: model.ChangeInsert, Record: match}))
	assert.Equal(t, 0, countPending(v.Records()))
}

func countPending[T Record[T]](records []T) int {
	n := 0
	for _, r := range records {
		if r.Identity().IsPending() {
			n++
		}
	}
	return n
}

func TestFold_UpdateReplacesInPlace(t *testing.T) {
	v := newView([]model.Todo{confirmed("b", "B", 2), confirmed("a", "A", 1)}, false)

	changed := confirmed("a", "A2", 1)
	changed.IsComplete = true
	assert.Equal(t, Replaced, v.Fold(update(changed)))

	got, ok := v.Get(model.Confirmed("a"))
	require.True(t, ok)
	assert.True(t, got.IsComplete)
	assert.Equal(t, []string{"b", "a"}, ids(v.Records()))
}

func TestFold_UpdateMissingIsDiscarded(t *testing.T) {
	v := newView([]model.Todo{confirmed("a", "A", 1)}, false)

	assert.Equal(t, Discarded, v.Fold(update(confirmed("zz", "Z", 9))))
	assert.Equal(t, []string{"a"}, ids(v.Records()))
}

func TestFold_DeleteThenUpdateStaysAbsent(t *testing.T) {
	v := newView([]model.Todo{confirmed("x", "X", 1)}, false)

	assert.Equal(t, Removed, v.Fold(remove("x")))
	assert.Equal(t, Discarded, v.Fold(update(confirmed("x", "X2", 1))))
	assert.Equal(t, Discarded, v.Fold(remove("x")))
	assert.Equal(t, 0, v.Len())
}

func TestFold_PendingIdentityDiscarded(t *testing.T) {
	v := newView[model.Todo](nil, false)
	assert.Equal(t, Discarded, v.Fold(insert(pending("p", "x", 1))))
	assert.Equal(t, 0, v.Len())
}

func TestView_SortIsStableForTies(t *testing.T) {
	v := newView([]model.Todo{confirmed("a", "A", 1), confirmed("b", "B", 1)}, false)

	v.Fold(insert(confirmed("c", "C", 1)))
	v.Fold(insert(confirmed("d", "D", 2)))

	// d is newest; among the ties the later prepend comes first.
	assert.Equal(t, []string{"d", "c", "a", "b"}, ids(v.Records()))
	require.NoError(t, Check(v.Records()))
}

func TestView_ConfirmReplacesPlaceholder(t *testing.T) {
	v := newView([]model.Todo{pending("p1", "A", 3), confirmed("a", "A", 1)}, false)

	outcome := v.Confirm(model.Pending("p1"), confirmed("t1", "A", 3))

	assert.Equal(t, ReplacedPlaceholder, outcome)
	assert.Equal(t, []string{"t1", "a"}, ids(v.Records()))
}

func TestView_ConfirmAfterStreamDelivered(t *testing.T) {
	v := newView([]model.Todo{pending("p1", "A", 3)}, false)
	v.Fold(insert(confirmed("t1", "A", 3)))

	outcome := v.Confirm(model.Pending("p1"), confirmed("t1", "A", 3))

	assert.Equal(t, Replaced, outcome)
	assert.Equal(t, []string{"t1"}, ids(v.Records()))
}

func TestView_ConfirmAfterPlaceholderTakenByOther(t *testing.T) {
	// Two creates in flight. The stream delivers t1 with content matching
	// neither placeholder, so it takes p2, the first in view order.
	v := newView([]model.Todo{pending("p2", "two", 4), pending("p1", "one", 3)}, false)
	v.Fold(insert(confirmed("t1", "zzz", 3)))
	assert.Equal(t, []string{"t1", "temp_p1"}, ids(v.Records()))

	v.Confirm(model.Pending("p1"), confirmed("t1", "one", 3))
	v.Confirm(model.Pending("p2"), confirmed("t2", "two", 4))

	want := []string{"t2", "t1"}
	if diff := cmp.Diff(want, ids(v.Records())); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, countPending(v.Records()))
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check([]model.Todo{confirmed("b", "B", 2), confirmed("a", "A", 1)}))
	assert.Error(t, Check([]model.Todo{confirmed("a", "A", 1), confirmed("b", "B", 2)}))
	assert.Error(t, Check([]model.Todo{confirmed("a", "A", 1), confirmed("a", "A", 1)}))
	assert.Error(t, Check([]model.Todo{{}}))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "replaced_placeholder", ReplacedPlaceholder.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
