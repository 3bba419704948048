package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/roach88/todosync/internal/engine"
	"github.com/roach88/todosync/internal/model"
)

// pendingMark follows the title of a record the store has not confirmed.
const pendingMark = "*"

// styles are bound to one writer so color detection follows that writer.
type styles struct {
	header  lipgloss.Style
	done    lipgloss.Style
	pending lipgloss.Style
	tag     lipgloss.Style
	id      lipgloss.Style
	ok      lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header:  r.NewStyle().Bold(true).Underline(true),
		done:    r.NewStyle().Strikethrough(true).Faint(true),
		pending: r.NewStyle().Italic(true).Foreground(lipgloss.Color("3")),
		tag:     r.NewStyle().Foreground(lipgloss.Color("6")),
		id:      r.NewStyle().Faint(true),
		ok:      r.NewStyle().Foreground(lipgloss.Color("2")),
	}
}

// todoJSON is the JSON form of a todo.
type todoJSON struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	IsComplete bool     `json:"is_complete"`
	Pending    bool     `json:"pending,omitempty"`
	Categories []string `json:"categories"`
}

// categoryJSON is the JSON form of a category.
type categoryJSON struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Pending bool   `json:"pending,omitempty"`
}

func toTodoJSON(v engine.TodoView) todoJSON {
	cats := v.Categories
	if cats == nil {
		cats = []string{}
	}
	return todoJSON{
		ID:         v.ID.String(),
		Title:      v.Title,
		IsComplete: v.IsComplete,
		Pending:    v.ID.IsPending(),
		Categories: cats,
	}
}

func toCategoryJSON(c model.Category) categoryJSON {
	return categoryJSON{ID: c.ID.String(), Title: c.Title, Pending: c.ID.IsPending()}
}

// renderTodos prints todos grouped into Incomplete and Complete sections,
// keeping their order within each group. Category ids are shown by title
// when s knows them.
func renderTodos(w io.Writer, s *engine.Snapshot, todos []engine.TodoView) {
	st := newStyles(w)
	if len(todos) == 0 {
		fmt.Fprintln(w, "No todos.")
		return
	}
	var open, done []engine.TodoView
	for _, v := range todos {
		if v.IsComplete {
			done = append(done, v)
		} else {
			open = append(open, v)
		}
	}
	section := func(name string, list []engine.TodoView) {
		if len(list) == 0 {
			return
		}
		fmt.Fprintf(w, "%s (%d)\n", st.header.Render(name), len(list))
		for _, v := range list {
			fmt.Fprintln(w, "  "+todoLine(st, s, v))
		}
	}
	section("Incomplete", open)
	section("Complete", done)
}

func todoLine(st styles, s *engine.Snapshot, v engine.TodoView) string {
	box, title := "[ ]", v.Title
	if v.IsComplete {
		box, title = "[x]", st.done.Render(v.Title)
	}
	if v.ID.IsPending() {
		title += st.pending.Render(pendingMark)
	}
	parts := []string{box, title}
	for _, id := range v.Categories {
		name := id
		if c, ok := s.Category(model.Confirmed(id)); ok {
			name = c.Title
		}
		parts = append(parts, st.tag.Render("#"+name))
	}
	parts = append(parts, st.id.Render(v.ID.String()))
	return strings.Join(parts, " ")
}

// renderCategories prints one category per line.
func renderCategories(w io.Writer, cats []model.Category) {
	st := newStyles(w)
	if len(cats) == 0 {
		fmt.Fprintln(w, "No categories.")
		return
	}
	fmt.Fprintf(w, "%s (%d)\n", st.header.Render("Categories"), len(cats))
	for _, c := range cats {
		title := c.Title
		if c.ID.IsPending() {
			title += st.pending.Render(pendingMark)
		}
		fmt.Fprintf(w, "  %s %s\n", title, st.id.Render(c.ID.String()))
	}
}

// renderDone prints a one-line confirmation.
func renderDone(w io.Writer, verb, title, id string) {
	st := newStyles(w)
	fmt.Fprintf(w, "%s %s %q %s\n", st.ok.Render("✓"), verb, title, st.id.Render(id))
}
