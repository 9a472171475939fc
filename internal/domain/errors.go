package domain

import "errors"

// Store-level outcomes shared by every repository implementation.
var (
	// ErrNotFound is returned when an item is absent or not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique field is already taken.
	ErrConflict = errors.New("conflict")
)

// ErrInvalidCredential is returned by identity providers that rejected the
// credential presented to them.
var ErrInvalidCredential = errors.New("invalid credential")
