// Package services holds the error markers and context plumbing shared by
// every Sprocket component that talks to an external collaborator.
package services
