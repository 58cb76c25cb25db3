// Package pod implements the device state-synchronization core for a
// Free Sleep pod.
//
// The pod is a stateful physical device on the local network with two
// independently controlled sides (temperature, alarm, vitals) and shared
// pod-level state (away mode, daily priming, LED brightness). It can be
// slow, intermittently unreachable, and may return partial or stale data.
//
// The package is built from four pieces:
//
//   - Client: HTTP transport to the pod firmware. Classifies every failure
//     (unreachable, timeout, malformed response, rejected) so callers can
//     apply distinct policies. No caching, no retries of its own.
//
//   - Cache: the last-known device snapshot plus the pending-command set.
//     Snapshots are replaced wholesale, never mutated in place, so readers
//     always see an internally consistent state from a single poll cycle.
//
//   - Reconciler: the single writer of fetched state. One goroutine per pod
//     polls on a fixed cadence, merges device truth into the cache, confirms
//     or re-issues pending commands, and backs off exponentially while the
//     device is unreachable. The cache keeps serving the last good snapshot
//     throughout.
//
//   - ConnectionHealth: failure counting and backoff state, exposed so the
//     surfaces can report whether the pod is reachable.
//
// Commands never go straight to the device. Adapters submit desired values
// into the pending set; the reconciler applies them on its next cycle. This
// bounds the device write rate and coalesces rapid repeated input (a
// temperature slider) into one latest-wins value per field.
package pod
