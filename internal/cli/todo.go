package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/todosync/internal/engine"
	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/session"
)

// NewTodoCommand creates the todo command group.
func NewTodoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "todo",
		Short: "Create, change and list todos",
	}
	cmd.AddCommand(
		newTodoAddCommand(rootOpts),
		newTodoEditCommand(rootOpts),
		newTodoToggleCommand(rootOpts),
		newTodoRemoveCommand(rootOpts),
		newTodoListCommand(rootOpts),
		newTodoTagCommand(rootOpts, true),
		newTodoTagCommand(rootOpts, false),
	)
	return cmd
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// reportTodo prints the outcome of a todo mutation.
func reportTodo(cmd *cobra.Command, opts *RootOptions, verb string, rec model.Todo, reg *session.Registry) error {
	view, ok := reg.Todos().Get(rec.ID)
	if !ok {
		view = engine.TodoView{Todo: rec}
	}
	if opts.Format == "json" {
		return formatter(cmd, opts).Success(toTodoJSON(view))
	}
	renderDone(cmd.OutOrStdout(), verb, view.Title, view.ID.String())
	return nil
}

func newTodoAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <title>...",
		Short: "Create a todo",
		Example: `  todosync todo add Buy milk
  todosync --dsn sqlite://todos.db --owner alice todo add "Pay rent"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			return withSession(cmd, opts, func(ctx context.Context, reg *session.Registry) error {
				op, err := reg.Todos().Create(ctx, model.TodoFields{Title: title})
				rec, err := settle(ctx, op, err)
				if err != nil {
					return err
				}
				return reportTodo(cmd, opts, "added", rec, reg)
			})
		},
	}
}

func newTodoEditCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> <title>...",
		Short: "Change the title of a todo",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("todo", args[0])
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			return withSession(cmd, opts, func(ctx context.Context, reg *session.Registry) error {
				op, err := reg.Todos().Edit(ctx, id, title)
				rec, err := settle(ctx, op, err)
				if err != nil {
					return err
				}
				return reportTodo(cmd, opts, "edited", rec, reg)
			})
		},
	}
}

func newTodoToggleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip a todo between incomplete and complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("todo", args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, opts, func(ctx context.Context, reg *session.Registry) error {
				op, err := reg.Todos().Toggle(ctx, id)
				rec, err := settle(ctx, op, err)
				if err != nil {
					return err
				}
				verb := "reopened"
				if rec.IsComplete {
					verb = "completed"
				}
				return reportTodo(cmd, opts, verb, rec, reg)
			})
		},
	}
}

func newTodoRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a todo and its category links",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("todo", args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, opts, func(ctx context.Context, reg *session.Registry) error {
				op, err := reg.Todos().Delete(ctx, id)
				rec, err := settle(ctx, op, err)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return formatter(cmd, opts).Success(map[string]string{"deleted": rec.ID.String()})
				}
				renderDone(cmd.OutOrStdout(), "deleted", rec.Title, rec.ID.String())
				return nil
			})
		},
	}
}

func newTodoListCommand(opts *RootOptions) *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List todos",
		Long: `List todos, incomplete first.

--filter selects "all" (default), "no-category", or a category id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, reg *session.Registry) error {
				if err := reg.Todos().LastError(); err != nil {
					return WrapExitError(ExitFailure, "load todos", err)
				}
				if err := reg.SetFilter(ctx, parseFilter(filter)); err != nil {
					return WrapExitError(ExitFailure, "set filter", err)
				}
				snap := reg.Engine().Snapshot()
				if opts.Format == "json" {
					out := make([]todoJSON, 0, len(snap.Visible()))
					for _, v := range snap.Visible() {
						out = append(out, toTodoJSON(v))
					}
					return formatter(cmd, opts).Success(out)
				}
				renderTodos(cmd.OutOrStdout(), snap, snap.Visible())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", `"all", "no-category" or a category id`)
	return cmd
}

func newTodoTagCommand(opts *RootOptions, link bool) *cobra.Command {
	use, short, verb := "tag <todo-id> <category-id>", "Link a todo to a category", "tagged"
	if !link {
		use, short, verb = "untag <todo-id> <category-id>", "Unlink a todo from a category", "untagged"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			todoID, err := parseID("todo", args[0])
			if err != nil {
				return err
			}
			categoryID, err := parseID("category", args[1])
			if err != nil {
				return err
			}
			return withSession(cmd, opts, func(ctx context.Context, reg *session.Registry) error {
				var op *engine.Op[model.Association]
				if link {
					op, err = reg.Todos().Associate(ctx, todoID, categoryID)
				} else {
					op, err = reg.Todos().Disassociate(ctx, todoID, categoryID)
				}
				if _, err := settle(ctx, op, err); err != nil {
					return err
				}
				view, _ := reg.Todos().Get(todoID)
				if opts.Format == "json" {
					return formatter(cmd, opts).Success(toTodoJSON(view))
				}
				renderDone(cmd.OutOrStdout(), verb, view.Title, todoID.String()+" "+categoryID.String())
				return nil
			})
		},
	}
}
