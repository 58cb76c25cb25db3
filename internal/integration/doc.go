// Package integration assembles the bridge: device client, state cache,
// reconciler, entity binder, MQTT publisher, and persistence, wired
// together behind a single setup/unload lifecycle.
//
// Setup gates on a first successful refresh so a bridge that comes up
// never exposes empty entity state: either the pod answered once and every
// entity has a value, or setup fails and the caller retries later.
package integration
