package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/testutil"
)

func view(id string, cats ...string) TodoView {
	return TodoView{
		Todo:       model.Todo{ID: model.Confirmed(id), Title: id, CreatedAt: testutil.Epoch, UpdatedAt: testutil.Epoch},
		Categories: cats,
	}
}

func TestFilter_Matches(t *testing.T) {
	tagged := view("t1", "c1", "c2")
	bare := view("t2")

	tests := []struct {
		name   string
		filter Filter
		want   []bool
	}{
		{"all", AllTodos(), []bool{true, true}},
		{"uncategorized", Uncategorized(), []bool{false, true}},
		{"category", InCategory("c2"), []bool{true, false}},
		{"other category", InCategory("c9"), []bool{false, false}},
		{"empty category id", InCategory(""), []bool{true, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want[0], tt.filter.Matches(tagged))
			assert.Equal(t, tt.want[1], tt.filter.Matches(bare))
		})
	}
}

func TestFilter_ApplyKeepsOrder(t *testing.T) {
	todos := []TodoView{view("t3"), view("t2", "c1"), view("t1")}
	got := Uncategorized().Apply(todos)
	require.Len(t, got, 2)
	assert.Equal(t, "t3", got[0].ID.Value())
	assert.Equal(t, "t1", got[1].ID.Value())
	assert.Len(t, AllTodos().Apply(todos), 3)
}

func TestFilter_String(t *testing.T) {
	assert.Equal(t, "", AllTodos().String())
	assert.Equal(t, UncategorizedSentinel, Uncategorized().String())
	assert.Equal(t, "c1", InCategory("c1").String())
	assert.Equal(t, FilterCategory, ParseFilter("c1").Mode())
	assert.Equal(t, FilterUncategorized, ParseFilter("no-category").Mode())
	assert.Equal(t, FilterAll, ParseFilter("").Mode())
}

func TestFilter_ParseRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var f Filter
		switch rapid.IntRange(0, 2).Draw(t, "mode") {
		case 0:
			f = AllTodos()
		case 1:
			f = Uncategorized()
		default:
			f = InCategory(rapid.StringMatching(`[a-z0-9]{1,12}`).Draw(t, "id"))
		}
		if got := ParseFilter(f.String()); got != f {
			t.Fatalf("ParseFilter(%q) = %v, want %v", f.String(), got, f)
		}
	})
}

func TestSnapshot_Check(t *testing.T) {
	link := model.Association{
		ID:         model.AssociationID("t1", "c1"),
		TodoID:     "t1",
		CategoryID: "c1",
		CreatedAt:  testutil.Epoch,
	}

	ok := &Snapshot{
		Todos:        []TodoView{view("t1", "c1")},
		Associations: []model.Association{link},
	}
	assert.NoError(t, ok.Check())

	stale := &Snapshot{
		Todos:        []TodoView{view("t1")},
		Associations: []model.Association{link},
	}
	assert.ErrorContains(t, stale.Check(), "associations say")

	dup := &Snapshot{
		Todos:        []TodoView{view("t1", "c1")},
		Associations: []model.Association{link, {ID: model.Pending("x"), TodoID: "t1", CategoryID: "c1", CreatedAt: testutil.Epoch}},
	}
	assert.ErrorContains(t, dup.Check(), "appears twice")

	pending := TodoView{Todo: model.Todo{ID: model.Pending("tok"), CreatedAt: testutil.Epoch}, Categories: []string{"c1"}}
	bad := &Snapshot{Todos: []TodoView{pending}}
	assert.ErrorContains(t, bad.Check(), "pending todo has categories")
}

func TestSnapshot_DigestIgnoresStatus(t *testing.T) {
	a := &Snapshot{Todos: []TodoView{view("t1")}, Filter: AllTodos()}
	b := &Snapshot{Todos: []TodoView{view("t1")}, Filter: AllTodos(), Version: 7, TodosStatus: KindStatus{Loading: true}}
	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db)

	c := &Snapshot{Todos: []TodoView{view("t1")}, Filter: Uncategorized()}
	dc, err := c.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)
}
