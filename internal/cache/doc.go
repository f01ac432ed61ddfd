// Package cache sits above the registry and answers the memoization
// question: has this exact operation already been computed, and is the
// answer still trustworthy?
//
// A miss hands the caller the exact ID it must use when it later commits
// the artifact, so the predicted and registered identifiers always agree,
// even across process restarts. When a source file's on-disk signature
// diverges from what the registry recorded, every transitive dependent is
// marked stale — the whole downstream chain is suspect, not just the direct
// children. Nothing is deleted; recompute policy belongs to the caller.
package cache
