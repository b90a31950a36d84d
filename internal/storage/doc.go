// Package storage persists completions and known users.
//
// Two drivers are available:
//   - "sqlite": a SQLite database file (modernc.org/sqlite, cgo-free)
//   - "file": JSON Lines journals replayed into memory at open
//
// Completions are insert-once per (user, task, date): concurrent writers for
// the same triple see exactly one Inserted result.
package storage
