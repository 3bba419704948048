// Package query describes the reads and writes todosync issues against a
// remote store, independently of the store's backend.
//
// A Select names a table, an optional filter, an explicit column list and
// an ordering. The same value is evaluated in memory by the memory store
// (Matches, SortRows) and compiled to parameterized SQL by Compiler for the
// SQLite and Postgres stores.
//
// Predicate is a sealed interface: only Equals and And implement it, which
// keeps every backend's type switch exhaustive.
//
// All compiled queries:
//   - have an ORDER BY ending in the id column, so results are deterministic
//   - bind every value as a parameter, never interpolate it
//   - validate identifiers against a fixed pattern
package query
