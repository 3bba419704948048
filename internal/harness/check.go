package harness

import (
	"fmt"
	"slices"

	"github.com/roach88/todosync/internal/engine"
	"github.com/roach88/todosync/internal/model"
)

// pendingMark ends the label of a record the store has not confirmed.
const pendingMark = "*"

// todoLabel renders a todo as "Title", "[x] Title" when complete, with
// pendingMark appended while pending.
func todoLabel(v engine.TodoView) string {
	label := v.Title
	if v.IsComplete {
		label = "[x] " + label
	}
	if v.ID.IsPending() {
		label += pendingMark
	}
	return label
}

func categoryLabel(c model.Category) string {
	if c.ID.IsPending() {
		return c.Title + pendingMark
	}
	return c.Title
}

func todoLabels(views []engine.TodoView) []string {
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, todoLabel(v))
	}
	return out
}

func categoryLabels(cats []model.Category) []string {
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryLabel(c))
	}
	return out
}

// linkLabels renders associations as "todo title:category title", sorted.
// Ends missing locally render as their ids.
func linkLabels(s *engine.Snapshot) []string {
	out := make([]string, 0, len(s.Associations))
	for _, a := range s.Associations {
		todo, category := a.TodoID, a.CategoryID
		if v, ok := s.Todo(model.Confirmed(a.TodoID)); ok {
			todo = v.Title
		}
		if c, ok := s.Category(model.Confirmed(a.CategoryID)); ok {
			category = c.Title
		}
		label := todo + ":" + category
		if a.ID.IsPending() {
			label += pendingMark
		}
		out = append(out, label)
	}
	slices.Sort(out)
	return out
}

// filterLabel renders the filter as "all", "no-category", or the title of
// the selected category.
func filterLabel(s *engine.Snapshot) string {
	switch s.Filter.Mode() {
	case engine.FilterAll:
		return "all"
	case engine.FilterUncategorized:
		return engine.UncategorizedSentinel
	}
	if c, ok := s.Category(model.Confirmed(s.Filter.CategoryID())); ok {
		return c.Title
	}
	return s.Filter.CategoryID()
}

// compare returns one message per list of c that differs from s.
func compare(c *Check, s *engine.Snapshot) []string {
	var diffs []string
	diff := func(what string, want, got []string) {
		if want != nil && !slices.Equal(want, got) {
			diffs = append(diffs, fmt.Sprintf("%s: want %q, got %q", what, want, got))
		}
	}
	diff("todos", c.Todos, todoLabels(s.Todos))
	diff("visible", c.Visible, todoLabels(s.Visible()))
	diff("categories", c.Categories, categoryLabels(s.Categories))
	diff("links", c.Links, linkLabels(s))
	if c.Filter != nil {
		if got := filterLabel(s); got != *c.Filter {
			diffs = append(diffs, fmt.Sprintf("filter: want %q, got %q", *c.Filter, got))
		}
	}
	return diffs
}
