package registry

import "errors"

var (
	// ErrNotFound reports an identifier unknown to the registry.
	ErrNotFound = errors.New("resource not found")
	// ErrConflict reports the same identifier claimed by two different
	// paths. That signals an identifier-derivation bug or a digest
	// collision and is never resolved silently.
	ErrConflict = errors.New("resource id conflict")
	// ErrCorruptState reports an unreadable persisted document.
	ErrCorruptState = errors.New("corrupt registry state")
)
