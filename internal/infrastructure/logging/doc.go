// Package logging provides structured logging for Free Sleep Core.
//
// It wraps log/slog with configuration-driven setup:
//   - JSON or text output
//   - Level filtering (debug, info, warn, error)
//   - Default service/version fields on every record
//
// Components take a child logger via Component() so every record carries a
// component field, which is how log lines from the reconciler, the API, and
// the MQTT surface are told apart.
package logging
