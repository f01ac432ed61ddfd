// Package daemon coordinates the long-running sprocket services: the MCP
// HTTP server, the source directory watcher, and the startup source sweep.
// It enforces single-instance execution with a lock file so the registry
// has exactly one writer while the daemon runs.
package daemon
