package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/todosync/internal/auth"
	"github.com/roach88/todosync/internal/realtime"
	"github.com/roach88/todosync/internal/remote"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a store to websocket clients",
		Long: `Run the realtime server in front of the store selected by --dsn.

Clients connect to /ws with a token signed with session.jwt_secret, either
as a Bearer header or an access_token query parameter. /health reports
liveness and /metrics exposes Prometheus metrics.

Examples:
  todosync serve --dsn sqlite://todos.db --addr :8080
  TODOSYNC_SESSION_JWT_SECRET=s3cret todosync serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg := opts.Config
	if cfg.Session.JWTSecret == "" {
		return NewExitError(ExitCommandError, "serve needs session.jwt_secret to verify client tokens")
	}
	addr := opts.Addr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := remote.Open(ctx, cfg.Remote.DSN)
	if err != nil {
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer backend.Close()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("listen on %s", addr), err)
	}

	srv := realtime.NewServer(backend, auth.NewVerifier([]byte(cfg.Session.JWTSecret)),
		realtime.WithLogger(opts.Logger))
	fmt.Fprintf(cmd.OutOrStdout(), "serving %s on %s\n", cfg.Remote.DSN, ln.Addr())
	if err := srv.Serve(ctx, ln); err != nil {
		return WrapExitError(ExitFailure, "serve", err)
	}
	return nil
}

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	TTL time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for --owner",
		Long: `Sign an access token for the session owner with session.jwt_secret.
The token is accepted by "todosync serve" and identifies its subject as the
owner of every row the client reads or writes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config
			if cfg.Session.JWTSecret == "" {
				return NewExitError(ExitCommandError, "token needs session.jwt_secret")
			}
			if cfg.Session.Owner == "" {
				return NewExitError(ExitCommandError, "token needs an owner (--owner)")
			}
			token, err := auth.Issue([]byte(cfg.Session.JWTSecret), cfg.Session.Owner, opts.TTL, time.Now())
			if err != nil {
				return WrapExitError(ExitFailure, "issue token", err)
			}
			if opts.Format == "json" {
				return formatter(cmd, opts.RootOptions).Success(map[string]string{
					"owner": cfg.Session.Owner,
					"token": token,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
