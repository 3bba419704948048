package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/todosync/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	return cmd
}

func newConfigValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a config file against the schema",
		Long: `Check a config file (YAML, TOML or JSON) against the settings schema.

Exit codes:
  0 - File is valid
  1 - File violates the schema
  2 - File could not be read`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, opts)
			err := config.ValidateFile(args[0])
			if err == nil {
				if opts.Format == "json" {
					return f.Success(map[string]any{"file": args[0], "valid": true})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid\n", args[0])
				return nil
			}

			var ve *config.ValidationError
			if !errors.As(err, &ve) {
				exitErr := WrapExitError(ExitCommandError, "read config", err)
				if opts.Format == "json" {
					_ = f.Error(CodeCommand, exitErr.Error(), nil)
					exitErr.Reported = true
				}
				return exitErr
			}
			problems := ve.Problems
			exitErr := NewExitError(ExitFailure, fmt.Sprintf("%d problem(s) in %s", len(problems), args[0]))
			if opts.Format == "json" {
				_ = f.Error(CodeInvalid, fmt.Sprintf("%s is invalid", args[0]), problems)
				exitErr.Reported = true
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "✗ %s is invalid\n", args[0])
				for _, p := range problems {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", p)
				}
			}
			return exitErr
		},
	}
}
