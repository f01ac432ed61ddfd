// Package recovery reconciles the registry against the actual filesystem.
//
// A rebuild scan re-registers sources by filename and re-registers derived
// artifacts from their provenance sidecars — small JSON documents written
// next to every committed artifact that record the operation, inputs, and
// parameters that produced it. An artifact only re-enters the registry when
// its recomputed identifier matches both the sidecar and the filename stem;
// anything that cannot be matched is reported as orphaned rather than
// silently skipped. Scanning is idempotent: a second pass over an unchanged
// tree changes nothing.
//
// Integrity validation is the read-only counterpart: it reports registry
// entries whose backing file has disappeared and mutates nothing, leaving
// the prune-or-rederive decision to the caller.
package recovery
