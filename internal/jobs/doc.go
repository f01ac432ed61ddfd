// Package jobs persists an execution audit trail for engine runs in SQLite.
// Every attempted run is recorded, not just the ones that produced an
// artifact, so operators can see failures and cancellations that the
// registry's provenance log never learns about.
package jobs
