// Package mcptools exposes the toolkit to host agents over the Model
// Context Protocol. Every catalog operation becomes a callable tool, plus
// registry tools for resolving, inspecting, and repairing cache state. The
// server is stateless: each call is independently correlated by a generated
// request ID that flows into logs and the job audit trail.
package mcptools
