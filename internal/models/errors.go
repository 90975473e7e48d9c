package models

import "errors"

// Sentinel errors surfaced across the manager API boundary.
var (
	// ErrQueueFull is returned by submit when admission control rejects the
	// submission outright.
	ErrQueueFull = errors.New("job queue is full")

	// ErrPermissionDenied is returned when the caller's identity does not
	// authorize the requested mutation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrJobNotFound is returned for lookups of unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
)
