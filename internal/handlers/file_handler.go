package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/locator"
	"github.com/ternarybob/verso/internal/manager"
)

// FileHandler serves generated artifacts out of the per-job tree. URLs
// follow the locator's scheme: /jobs/{id}/files/{relative_path}.
type FileHandler struct {
	manager *manager.Manager
	locator *locator.Locator
	logger  arbor.ILogger
}

// NewFileHandler creates a new artifact file handler.
func NewFileHandler(mgr *manager.Manager, logger arbor.ILogger) *FileHandler {
	return &FileHandler{
		manager: mgr,
		locator: mgr.Locator(),
		logger:  logger,
	}
}

// ServeFileHandler streams one artifact
// GET /jobs/{id}/files/{relative_path}
func (h *FileHandler) ServeFileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	// Path: /jobs/{id}/files/{rel...}
	pathParts := PathParts(r)
	if len(pathParts) < 4 || pathParts[2] != "files" {
		http.Error(w, "Invalid file path", http.StatusBadRequest)
		return
	}
	jobID := pathParts[1]
	rel := strings.Join(pathParts[3:], "/")

	// Visibility check rides on the standard job lookup.
	caller := CallerIdentity(r)
	if _, err := h.manager.Get(r.Context(), jobID, caller.UserID, caller.Role); err != nil {
		WriteManagerError(w, err)
		return
	}

	root := h.locator.JobRoot(jobID)
	target := filepath.Join(root, filepath.FromSlash(rel))
	if relCheck, err := filepath.Rel(root, target); err != nil || relCheck == ".." || strings.HasPrefix(relCheck, ".."+string(filepath.Separator)) {
		h.logger.Warn().Str("job_id", jobID).Str("path", rel).Msg("Rejected file path escaping job root")
		http.Error(w, "Invalid file path", http.StatusBadRequest)
		return
	}

	http.ServeFile(w, r, target)
}
