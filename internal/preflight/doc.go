// Package preflight verifies the environment before the daemon or a
// transform run commits to work: engine binaries on PATH, managed
// directories accessible, and enough free disk space to land new artifacts.
package preflight
