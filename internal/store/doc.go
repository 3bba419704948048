// Package store provides the SQL-backed remote store used by todosync.
//
// A Store implements remote.Client over database/sql with one of two
// dialects:
//   - SQLite (github.com/mattn/go-sqlite3) for single-host deployments and
//     tests. Changes are published in-process after each commit.
//   - Postgres (github.com/lib/pq). Row triggers announce every change on
//     the todosync_changes channel and a pq.Listener feeds subscribers, so
//     writes from other processes reach them too.
//
// # Critical Patterns
//
// Owner scoping: every update and delete carries user_id in its WHERE
// clause; association inserts verify both referenced rows are owned by
// the inserting user.
//
// Deterministic reads: all SELECTs are compiled by internal/query and end
// their ORDER BY in the key columns.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Cascading association deletes
//
// Importing the package registers the sqlite, file, postgres and
// postgresql schemes with remote.Open.
package store
