// Package main hosts the Sprocket CLI entrypoint and command graph.
//
// The Cobra-based command tree surfaces the registry and toolkit to
// operators: registering sources, running operations directly, inspecting
// the operation log and job audit trail, and rebuilding registry state from
// disk. It centralizes configuration resolution, registry locking, and
// logging setup so subcommands can focus on user experience instead of
// wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
