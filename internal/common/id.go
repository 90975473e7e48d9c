package common

import (
	"strings"

	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewCorrelationID generates a correlation ID propagated through a job's
// lifetime for log and event correlation.
// Format: req_<uuid>
func NewCorrelationID() string {
	return "req_" + uuid.New().String()
}

// SanitizeID reduces an ID to characters safe for use as a filename.
// Anything outside [a-zA-Z0-9._-] is replaced with '_'.
func SanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, id)
}
