// Package registry implements the persistent, content-addressed resource
// index at the heart of Sprocket.
//
// The registry owns four maps keyed by deterministic identifiers — source
// files, generated files, metadata files, and an append-only operation log —
// plus the dependency edges connecting derived artifacts to their inputs.
// All state persists to one JSON document written atomically; a corrupt
// document degrades to an empty registry with a loud, queryable warning
// because the cache is always rebuildable from the filesystem.
//
// The registry assumes a single in-process mutator. Registrations are
// atomic: an operation either updates the file maps, the operation log, and
// the dependency edges together, or not at all. External transformations
// run with no registry lock held; only the brief registration call needs
// exclusivity.
package registry
