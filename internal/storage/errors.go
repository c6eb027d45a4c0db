package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleWrite is returned when a write carries an older slot than the
	// stored listing row or user asset field. Stored state is left unchanged.
	ErrStaleWrite = errors.New("stale write: stored row has a newer slot")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
