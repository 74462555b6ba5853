// Package logging assembles the slog loggers used by the daemon and CLI.
//
// It owns the console and JSON handlers, maps configuration onto levels and
// outputs, and exposes context helpers so every line emitted during a backup
// cycle carries the cycle and world identifiers. NewNop is provided for tests
// and wiring code that cannot fail.
package logging
