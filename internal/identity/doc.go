// Package identity derives the deterministic identifiers that key every
// entry in the resource registry.
//
// Source files are identified purely by their normalized filename
// (src_<name>), so registering the same filename from any process always
// lands on the same entry. Derived artifacts are identified by a SHA-256
// digest over their ordered input IDs, operation name, and canonicalized
// parameters, formatted as <operation>_<12 hex digits>. The two namespaces
// cannot collide because operation names are validated and "src" is
// reserved.
//
// # Parameter canonicalization
//
// Parameter maps are reduced to a sorted key/value list before hashing so
// key order never affects the ID. Floating point values render as plain
// integers when integral (5.0 and 5 are the same JSON value) and with fixed
// six-decimal precision otherwise, so platform-dependent float formatting
// can never split one logical parameter set into two IDs. The same
// canonical form feeds both the hash and the command builders that execute
// the operation.
package identity
