// Package logging assembles the structured slog loggers used across
// Sprocket components.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so tool handlers can
// automatically tag log lines with operation names and request IDs. The
// package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging
