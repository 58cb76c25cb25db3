// Package history persists poll snapshots and the command audit trail in
// SQLite.
//
// The state cache itself is ephemeral: it is rebuilt from the device after
// every restart. What survives restarts is this package's record of what
// the device reported over time and what was asked of it, which backs the
// history API and post-hoc debugging of reconciliation behaviour.
package history
