// Package session is the per-user entry point to the sync engine.
//
// Open authenticates a user, connects to the remote store, starts an engine
// and loads the user's data. The returned Registry hands out the todo and
// category handles and the filter, and Close tears everything down. A
// per-owner lock file in the state directory keeps two sessions for the same
// owner from running side by side.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/roach88/todosync/internal/auth"
	"github.com/roach88/todosync/internal/engine"
	"github.com/roach88/todosync/internal/remote"
)

// ErrLocked is returned when another session holds the owner's lock.
var ErrLocked = errors.New("session already active for owner")

// Options configures Open.
type Options struct {
	// DSN selects the remote store; see remote.Open. Ignored if Client is set.
	DSN string

	// Owner is the user id. Token, if set, takes precedence; a mismatch
	// between the two is an error.
	Owner string
	Token string

	// Verifier checks Token. Without one the token's subject is trusted,
	// which is what a client holding its own token does.
	Verifier *auth.Verifier

	// StateDir holds the lock files. Empty disables locking.
	StateDir string

	// Client is an already open remote store. The session does not close it.
	Client remote.Client

	Logger        *slog.Logger
	EngineOptions []engine.EngineOption
}

// Registry is one authenticated session: the engine, its remote store and
// the owner lock.
type Registry struct {
	owner      string
	engine     *engine.Engine
	client     remote.Client
	ownsClient bool
	lock       *flock.Flock
	logger     *slog.Logger

	cancel    context.CancelFunc
	runErr    chan error
	closeOnce sync.Once
	closeErr  error
}

// Open starts a session. The initial load runs before Open returns; a
// failed load is logged and left as the handles' LastError rather than
// failing the session.
func Open(ctx context.Context, opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	owner, err := resolveOwner(opts)
	if err != nil {
		return nil, err
	}

	r := &Registry{owner: owner, logger: logger, runErr: make(chan error, 1)}
	if opts.StateDir != "" {
		if r.lock, err = acquire(opts.StateDir, owner); err != nil {
			return nil, err
		}
	}

	r.client = opts.Client
	if r.client == nil {
		dsn, err := withToken(opts.DSN, opts.Token)
		if err != nil {
			r.release()
			return nil, err
		}
		if r.client, err = remote.Open(ctx, dsn); err != nil {
			r.release()
			return nil, fmt.Errorf("open session: %w", err)
		}
		r.ownsClient = true
	}

	engOpts := append([]engine.EngineOption{engine.WithLogger(logger)}, opts.EngineOptions...)
	r.engine, err = engine.New(r.client, owner, engOpts...)
	if err != nil {
		r.release()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() { r.runErr <- r.engine.Run(runCtx) }()

	if err := r.engine.Load(ctx); err != nil {
		logger.Warn("initial load failed", "owner", owner, "error", err)
	}
	logger.Info("session opened", "owner", owner)
	return r, nil
}

// resolveOwner picks the session owner from the token or the explicit id.
func resolveOwner(opts Options) (string, error) {
	owner := opts.Owner
	if opts.Token != "" {
		var sub string
		var err error
		if opts.Verifier != nil {
			sub, err = opts.Verifier.Owner(opts.Token)
		} else {
			sub, err = auth.OwnerUnverified(opts.Token)
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", engine.ErrNotAuthenticated, err)
		}
		if owner != "" && owner != sub {
			return "", fmt.Errorf("%w: token subject %q does not match owner %q", engine.ErrNotAuthenticated, sub, owner)
		}
		owner = sub
	}
	if owner == "" {
		return "", engine.ErrNotAuthenticated
	}
	return owner, nil
}

// withToken adds the token to websocket DSNs as the access_token parameter.
func withToken(dsn, token string) (string, error) {
	if token == "" {
		return dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	default:
		return dsn, nil
	}
	q := u.Query()
	if q.Get("access_token") == "" {
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// LockPath returns the lock file of owner in stateDir.
func LockPath(stateDir, owner string) string {
	return filepath.Join(stateDir, "session-"+url.PathEscape(owner)+".lock")
}

func acquire(stateDir, owner string) (*flock.Flock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	lock := flock.New(LockPath(stateDir, owner))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, owner)
	}
	return lock, nil
}

// Owner returns the session owner.
func (r *Registry) Owner() string { return r.owner }

// Engine returns the session's engine.
func (r *Registry) Engine() *engine.Engine { return r.engine }

// Todos returns the todo handle.
func (r *Registry) Todos() *engine.Todos { return r.engine.Todos() }

// Categories returns the category handle.
func (r *Registry) Categories() *engine.Categories { return r.engine.Categories() }

// Filter returns the current category filter.
func (r *Registry) Filter() engine.Filter { return r.engine.Filter() }

// SetFilter changes the category filter.
func (r *Registry) SetFilter(ctx context.Context, f engine.Filter) error {
	return r.engine.SetFilter(ctx, f)
}

// Close stops the engine, closes the remote store if the session opened it
// and releases the lock. In-flight operations resolve with
// engine.ErrStopped. Safe to call more than once.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.engine.Stop()
		<-r.engine.Done()
		r.cancel()
		var errs []error
		if err := <-r.runErr; err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
		if r.ownsClient {
			if err := r.client.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close remote: %w", err))
			}
		}
		if err := r.release(); err != nil {
			errs = append(errs, err)
		}
		r.closeErr = errors.Join(errs...)
		r.logger.Info("session closed", "owner", r.owner)
	})
	return r.closeErr
}

func (r *Registry) release() error {
	if r.lock == nil {
		return nil
	}
	if err := r.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock session: %w", err)
	}
	return nil
}
