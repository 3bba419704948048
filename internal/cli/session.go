package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/todosync/internal/auth"
	"github.com/roach88/todosync/internal/engine"
	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/session"
)

// withSession opens a session from the merged config, runs fn and closes
// the session. The whole call is bounded by remote.timeout.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, reg *session.Registry) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d := opts.Config.Remote.Timeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	reg, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := reg.Close(); cerr != nil && err == nil {
			err = WrapExitError(ExitFailure, "close session", cerr)
		}
	}()
	return fn(ctx, reg)
}

func openSession(ctx context.Context, opts *RootOptions) (*session.Registry, error) {
	cfg := opts.Config
	var verifier *auth.Verifier
	if cfg.Session.JWTSecret != "" {
		verifier = auth.NewVerifier([]byte(cfg.Session.JWTSecret))
	}
	reg, err := session.Open(ctx, session.Options{
		DSN:      cfg.Remote.DSN,
		Owner:    cfg.Session.Owner,
		Token:    cfg.Session.Token,
		Verifier: verifier,
		StateDir: cfg.Session.StateDir,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open session", err)
	}
	opts.Logger.Debug("session opened", "owner", reg.Owner(), "dsn", cfg.Remote.DSN)
	return reg, nil
}

// settle waits for op and maps engine errors to exit codes.
func settle[T any](ctx context.Context, op *engine.Op[T], err error) (T, error) {
	if err != nil {
		var zero T
		return zero, mutationExit(err)
	}
	rec, err := op.Wait(ctx)
	if err != nil {
		return rec, mutationExit(err)
	}
	return rec, nil
}

func mutationExit(err error) error {
	switch {
	case engine.IsNotFoundError(err):
		return WrapExitError(ExitFailure, "not found", err)
	case engine.IsMutationError(err):
		return WrapExitError(ExitFailure, "rejected by the remote store", err)
	case errors.Is(err, model.ErrEmptyTitle):
		return WrapExitError(ExitCommandError, "invalid title", err)
	}
	return WrapExitError(ExitFailure, "mutation failed", err)
}

// parseID reads a record id argument.
func parseID(what, s string) (model.Identity, error) {
	id, err := model.ParseIdentity(s)
	if err != nil {
		return model.Identity{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid %s id %q", what, s), err)
	}
	return id, nil
}

// parseFilter reads a --filter value: empty or "all", "no-category", or a
// category id.
func parseFilter(s string) engine.Filter {
	if s == "all" {
		return engine.AllTodos()
	}
	return engine.ParseFilter(s)
}
