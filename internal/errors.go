package internal

import "errors"

var (
	// ErrInvalidInput means a required field is missing or malformed (HTTP 400).
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound means the short code is unknown (HTTP 404).
	ErrNotFound = errors.New("not found")
	// ErrDependencyUnavailable marks a failed geo lookup. It never leaves the
	// background pipeline.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrStoreFailure wraps persistence errors (HTTP 500 on the request path).
	ErrStoreFailure = errors.New("store failure")
	// ErrResourceExhausted means no free code was found within the attempt budget.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrCodeConflict is returned by stores when an inserted code already exists.
	ErrCodeConflict = errors.New("code already exists")
)
