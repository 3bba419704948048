package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/session"
)

// NewCategoryCommand creates the category command group.
func NewCategoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "category",
		Aliases: []string{"cat"},
		Short:   "Create, rename and list categories",
	}
	cmd.AddCommand(
		newCategoryAddCommand(rootOpts),
		newCategoryEditCommand(rootOpts),
		newCategoryRemoveCommand(rootOpts),
		newCategoryListCommand(rootOpts),
	)
	return cmd
}

func reportCategory(cmd *cobra.Command, opts *RootOptions, verb string, c model.Category) error {
	if opts.Format == "json" {
		return formatter(cmd, opts).Success(toCategoryJSON(c))
	}
	renderDone(cmd.OutOrStdout(), verb, c.Title, c.ID.String())
	return nil
}

func newCategoryAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <title>...",
		Short: "Create a category",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			return withSession(cmd, opts, func(ctx context.Context, reg *session.Registry) error {
				op, err := reg.Categories().Create(ctx, model.CategoryFields{Title: title})
				rec, err := settle(ctx, op, err)
				if err != nil {
					return err
				}
				return reportCategory(cmd, opts, "added", rec)
			})
		},
	}
}

func newCategoryEditCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> <title>...",
		Short: "Rename a category",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("category", args[0])
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			return withSession(cmd, opts, func(ctx context.Context, reg *session.Registry) error {
				op, err := reg.Categories().Edit(ctx, id, title)
				rec, err := settle(ctx, op, err)
				if err != nil {
					return err
				}
				return reportCategory(cmd, opts, "renamed", rec)
			})
		},
	}
}

func newCategoryRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a category and unlink its todos",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("category", args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, opts, func(ctx context.Context, reg *session.Registry) error {
				op, err := reg.Categories().Delete(ctx, id)
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

func newCategoryListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List categories",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, reg *session.Registry) error {
				if err := reg.Categories().LastError(); err != nil {
					return WrapExitError(ExitFailure, "load categories", err)
				}
				cats := reg.Categories().List()
				if opts.Format == "json" {
					out := make([]categoryJSON, 0, len(cats))
					for _, c := range cats {
						out = append(out, toCategoryJSON(c))
					}
					return formatter(cmd, opts).Success(out)
				}
				renderCategories(cmd.OutOrStdout(), cats)
				return nil
			})
		},
	}
}
