package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/todosync/internal/config"
	// Register the sqlite, postgres and websocket DSN schemes.
	_ "github.com/roach88/todosync/internal/realtime"
	_ "github.com/roach88/todosync/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// Set by the root command before any subcommand runs.
	Viper  *viper.Viper
	Config *config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the todosync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Viper: config.New()}

	cmd := &cobra.Command{
		Use:   "todosync",
		Short: "todosync - optimistic todo sync",
		Long: `A client for a remote todo store that applies changes locally first
and reconciles them with the store's confirmations and change stream.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := config.Load(opts.Viper, opts.ConfigFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "load config", err)
			}
			opts.Config = cfg
			logger, err := newLogger(cmd.ErrOrStderr(), opts)
			if err != nil {
				return WrapExitError(ExitCommandError, "configure logging", err)
			}
			opts.Logger = logger
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (yaml, toml or json)")
	flags.String("dsn", config.DefaultDSN, "remote store (memory://, sqlite://path, postgres://..., ws://host/ws)")
	flags.String("owner", "", "user id of the session")
	flags.String("token", "", "access token; its subject is the owner")
	flags.String("log-file", "", "write logs to a rotated file instead of stderr")
	bind(opts.Viper, cmd, map[string]string{
		"remote.dsn":    "dsn",
		"session.owner": "owner",
		"session.token": "token",
		"log.file":      "log-file",
	})

	// Add subcommands
	cmd.AddCommand(NewTodoCommand(opts))
	cmd.AddCommand(NewCategoryCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// Execute runs cmd and reports a failure: as a JSON error envelope on stdout
// under --format json, otherwise on stderr. It returns the exit code.
func Execute(cmd *cobra.Command) int {
	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	format, _ := cmd.PersistentFlags().GetString("format")
	if format == "json" && isValidFormat(format) {
		if !reported(err) {
			f := &OutputFormatter{Format: format, Writer: cmd.OutOrStdout()}
			_ = f.Error(errorCode(err), err.Error(), nil)
		}
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
	}
	return GetExitCode(err)
}

// bind ties config keys to persistent flags of cmd.
func bind(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		// BindPFlag only fails for a nil flag.
		_ = v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag))
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
