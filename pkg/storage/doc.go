// Package storage provides the SQL plumbing shared by the record stores.
//
// Two backends are supported through database/sql:
//
//   - PostgreSQL via github.com/lib/pq (production)
//   - SQLite via github.com/mattn/go-sqlite3 (development and tests)
//
// Stores write the same SQL to both. Placeholders use the $n form, and every
// timestamp comes from an injected Clock rather than NOW(), so comparisons
// such as "expires_at > $2" behave identically on either backend. When a
// placeholder is repeated, its first appearances must be in ascending order.
//
// Usage:
//
//	db, dialect, err := storage.Open(ctx, storage.Config{Driver: "postgres", URL: url})
//	if err := storage.EnsureSchema(ctx, db, dialect); err != nil { ... }
//
// Concurrency control is optimistic: single-use tokens are consumed with a
// conditional UPDATE whose RowsAffected decides the winner, and partial unique
// indexes back the "one active invitation per email and role" rule.
// IsUniqueViolation maps constraint failures from either driver.
package storage
