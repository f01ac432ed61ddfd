// Package watch observes the source directory for file changes and feeds
// debounced invalidation requests to its callback. Editors and exporters
// produce bursts of writes for one logical save, so events are coalesced per
// path before the callback fires.
package watch
