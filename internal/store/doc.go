// Package store is the bun backed authoritative customer repository. It runs
// on Postgres (lib/pq) and SQLite (go-sqlite3); driver errors for uniqueness
// violations are mapped to customer.ConflictError and nothing driver specific
// leaves the package.
package store
