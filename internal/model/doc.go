// Package model defines the records synchronized by todosync: todos,
// categories and the associations between them.
//
// This package contains value types and their row codecs only. Every other
// internal package imports model; model imports nothing internal.
//
// Key design constraints:
//   - Record identity is a tagged union (Confirmed or Pending), never a
//     string prefix sniffed at runtime
//   - Rows exchanged with remote stores use snake_case column names
//   - Canonical JSON (RFC 8785) is the only serialization used for digests
package model
