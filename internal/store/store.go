package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/todosync/internal/query"
	"github.com/roach88/todosync/internal/remote"
)

//go:embed schema_sqlite.sql
var schemaSQLite string

//go:embed schema_postgres.sql
var schemaPostgres string

// Schema version tracking (SQLite):
// 0 - Initial schema (pre-migration)
// 1 - Added index on todo_categories.category_id
const currentSchemaVersion = 1

func init() {
	openSQLite := func(ctx context.Context, dsn string) (remote.Client, error) {
		path, err := sqlitePath(dsn)
		if err != nil {
			return nil, err
		}
		return Open(ctx, path)
	}
	openPostgres := func(ctx context.Context, dsn string) (remote.Client, error) {
		return OpenPostgres(ctx, dsn)
	}
	remote.Register("sqlite", openSQLite)
	remote.Register("file", openSQLite)
	remote.Register("postgres", openPostgres)
	remote.Register("postgresql", openPostgres)
}

// Store is a remote.Client backed by a SQL database.
type Store struct {
	db       *sql.DB
	dialect  query.Dialect
	compiler *query.Compiler
	hub      *remote.Hub
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time

	// writeMu orders SQLite commits with their publication.
	writeMu sync.Mutex

	listener *changeListener // Postgres only

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithIDGenerator sets the id generator for inserted rows.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithClock sets the clock for server-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func newStore(db *sql.DB, d query.Dialect, opts []Option) *Store {
	s := &Store{
		db:       db,
		dialect:  d,
		compiler: query.NewCompiler(d),
		hub:      remote.NewHub(),
		logger:   slog.Default(),
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(ctx, db, schemaSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return newStore(db, query.SQLite, opts), nil
}

// OpenPostgres connects to a Postgres database, applies the schema and
// starts listening for change notifications.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := applySchema(ctx, db, schemaPostgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	s := newStore(db, query.Postgres, opts)
	l, err := listen(dsn, s.hub, s.logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.listener = l
	return s, nil
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() query.Dialect { return s.dialect }

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close stops the change feed, closes subscriptions and the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.listener != nil {
			s.listener.Close()
		}
		s.hub.Close()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist. Idempotent.
func applySchema(ctx context.Context, db *sql.DB, schema string) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// runMigrations applies incremental SQLite migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(ctx, db); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 indexes associations by category for cascade lookups.
func migrateToV1(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_todo_categories_category
		ON todo_categories(category_id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// sqlitePath extracts the database path from a sqlite:// or file: DSN.
// file: DSNs are passed through, since go-sqlite3 accepts URI filenames.
func sqlitePath(dsn string) (string, error) {
	if strings.HasPrefix(strings.ToLower(dsn), "file:") {
		return dsn, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse sqlite dsn: %w", err)
	}
	path := parsed.Host + parsed.Path
	if path == "" {
		return "", fmt.Errorf("sqlite dsn %q: missing path", dsn)
	}
	return path, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	q := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(q).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
