package engine

import "slices"

// FilterMode selects which todos are visible.
type FilterMode uint8

const (
	// FilterAll shows every todo.
	FilterAll FilterMode = iota
	// FilterUncategorized shows todos with no category.
	FilterUncategorized
	// FilterCategory shows todos linked to one category.
	FilterCategory
)

// UncategorizedSentinel is the serialized form of Uncategorized().
const UncategorizedSentinel = "no-category"

// Filter is the category filter of the visible todo list. Exactly one mode
// is active; the category id is set only for FilterCategory.
type Filter struct {
	mode     FilterMode
	category string
}

// AllTodos returns the filter showing everything.
func AllTodos() Filter { return Filter{mode: FilterAll} }

// Uncategorized returns the filter showing todos without categories.
func Uncategorized() Filter { return Filter{mode: FilterUncategorized} }

// InCategory returns the filter showing todos linked to categoryID. An empty
// id selects all todos.
func InCategory(categoryID string) Filter {
	if categoryID == "" {
		return AllTodos()
	}
	return Filter{mode: FilterCategory, category: categoryID}
}

// ParseFilter is the inverse of Filter.String: "" is all todos,
// "no-category" is uncategorized, anything else is a category id.
func ParseFilter(s string) Filter {
	switch s {
	case "":
		return AllTodos()
	case UncategorizedSentinel:
		return Uncategorized()
	default:
		return InCategory(s)
	}
}

// Mode returns the active mode.
func (f Filter) Mode() FilterMode { return f.mode }

// CategoryID returns the filtered category, or "".
func (f Filter) CategoryID() string { return f.category }

// String returns the serialized form.
func (f Filter) String() string {
	switch f.mode {
	case FilterUncategorized:
		return UncategorizedSentinel
	case FilterCategory:
		return f.category
	default:
		return ""
	}
}

// Matches reports whether the todo is visible under f.
func (f Filter) Matches(t TodoView) bool {
	switch f.mode {
	case FilterUncategorized:
		return len(t.Categories) == 0
	case FilterCategory:
		return slices.Contains(t.Categories, f.category)
	default:
		return true
	}
}

// Apply returns the visible subset of todos, in order.
func (f Filter) Apply(todos []TodoView) []TodoView {
	if f.mode == FilterAll {
		return todos
	}
	out := make([]TodoView, 0, len(todos))
	for _, t := range todos {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}
