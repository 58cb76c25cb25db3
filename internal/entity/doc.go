// Package entity maps pod state onto a stable set of controllable and
// sensor entities.
//
// Entities are description-driven: a static table declares every entity
// the bridge exposes (its device, kind, metadata, how to read its value
// from a snapshot, and which command field it writes). The binder owns
// that table and translates inbound entity commands into reconciler
// submissions; the publisher renders the table onto MQTT topics.
//
// Entity identities are derived from the device and entity keys alone, so
// they survive restarts and re-setups without churning consumer state.
package entity
