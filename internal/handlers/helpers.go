package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/verso/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// Identity is the caller identity extracted from request headers. The
// service trusts an upstream gateway to authenticate; this layer only
// carries the result through to the manager's ownership checks.
type Identity struct {
	UserID string
	Role   string
}

// CallerIdentity reads the caller identity from the X-User-ID and
// X-User-Role headers. Absent headers yield the anonymous viewer.
func CallerIdentity(r *http.Request) Identity {
	id := Identity{
		UserID: r.Header.Get("X-User-ID"),
		Role:   r.Header.Get("X-User-Role"),
	}
	if id.UserID == "" {
		id.UserID = "anonymous"
	}
	if id.Role == "" {
		id.Role = "viewer"
	}
	return id
}

// PathParts splits the URL path into its non-empty segments.
// Example: /api/jobs/abc/pause -> ["api", "jobs", "abc", "pause"]
func PathParts(r *http.Request) []string {
	trimmed := strings.Trim(r.URL.Path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// WriteManagerError maps manager errors onto HTTP status codes.
func WriteManagerError(w http.ResponseWriter, err error) {
	var transition *models.TransitionError
	switch {
	case errors.Is(err, models.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, models.ErrPermissionDenied):
		WriteError(w, http.StatusForbidden, "Permission denied")
	case errors.Is(err, models.ErrQueueFull):
		WriteError(w, http.StatusTooManyRequests, "Job queue is full, retry later")
	case errors.As(err, &transition):
		WriteError(w, http.StatusConflict, transition.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
