// Package errs defines the sentinel errors shared across service layers.
// The HTTP layer maps them to response codes; services wrap them with
// context via fmt.Errorf and callers test with errors.Is.
package errs

import "errors"

var (
	// ErrNotFound covers both an absent entity and one the caller may not
	// see. The two cases are intentionally indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the entity is visible but the operation is
	// disallowed by a role or ownership rule.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict signals a uniqueness violation such as a duplicate email.
	ErrConflict = errors.New("conflict")

	// ErrExpired signals an invitation token past its validity window.
	ErrExpired = errors.New("expired")

	// ErrInvalidArgument signals a malformed role level or sharing spec.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyInitialized signals a bootstrap attempt after the first
	// owner already exists.
	ErrAlreadyInitialized = errors.New("already initialized")
)
