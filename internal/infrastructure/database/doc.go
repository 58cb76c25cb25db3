// Package database manages the SQLite history store for Free Sleep Core.
//
// This package provides:
//   - Connection management with WAL mode and busy timeout pragmas
//   - Embedded schema migrations applied at startup
//   - Health checks for monitoring
//
// The store holds poll snapshot history and the command log. It is an audit
// trail, not the source of truth: the in-memory state cache is rebuilt from
// the device on every startup, so losing the database file loses history
// only, never control.
package database
