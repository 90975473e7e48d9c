package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/manager"
	"github.com/ternarybob/verso/internal/models"
)

// isValidationError distinguishes bad submissions from operational
// failures so they map onto 400 rather than 500.
func isValidationError(err error) bool {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unknown override keys") ||
		strings.Contains(msg, "request payload is required")
}

// JobHandler handles job-related API requests
type JobHandler struct {
	manager *manager.Manager
	logger  arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(mgr *manager.Manager, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		manager: mgr,
		logger:  logger,
	}
}

// CollectionHandler dispatches /api/jobs (no trailing segment).
// POST submits a job, GET lists them.
func (h *JobHandler) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.SubmitJobHandler(w, r)
	case http.MethodGet:
		h.ListJobsHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ItemHandler dispatches /api/jobs/{id} and /api/jobs/{id}/{action}.
func (h *JobHandler) ItemHandler(w http.ResponseWriter, r *http.Request) {
	// Path: /api/jobs/{id}[/{action}]
	pathParts := PathParts(r)
	if len(pathParts) < 3 || pathParts[2] == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}
	jobID := pathParts[2]

	if len(pathParts) == 3 {
		switch r.Method {
		case http.MethodGet:
			h.GetJobHandler(w, r, jobID)
		case http.MethodDelete:
			h.DeleteJobHandler(w, r, jobID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	switch pathParts[3] {
	case "pause":
		h.PauseJobHandler(w, r, jobID)
	case "resume":
		h.ResumeJobHandler(w, r, jobID)
	case "cancel":
		h.CancelJobHandler(w, r, jobID)
	case "metadata":
		h.RefreshMetadataHandler(w, r, jobID)
	default:
		http.Error(w, "Unknown job action", http.StatusNotFound)
	}
}

// SubmitJobHandler accepts a new pipeline submission
// POST /api/jobs
func (h *JobHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	caller := CallerIdentity(r)

	var payload models.RequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	job, err := h.manager.Submit(r.Context(), &payload, caller.UserID, caller.Role)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", caller.UserID).Msg("Job submission rejected")
		if isValidationError(err) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteManagerError(w, err)
		return
	}

	h.logger.Info().Str("job_id", job.ID).Str("user_id", caller.UserID).Msg("Job accepted")
	WriteJSON(w, http.StatusAccepted, job)
}

// ListJobsHandler returns every job visible to the caller, newest first
// GET /api/jobs?status=paused&limit=50
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	caller := CallerIdentity(r)

	jobs, err := h.manager.List(r.Context(), caller.UserID, caller.Role)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteManagerError(w, err)
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" {
		filtered := make([]*models.Job, 0, len(jobs))
		for _, job := range jobs {
			if string(job.Status) == status {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}

	limit := len(jobs)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed >= 0 && parsed < limit {
			limit = parsed
		}
	}
	jobs = jobs[:limit]

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJobHandler returns a single job by ID
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	caller := CallerIdentity(r)

	job, err := h.manager.Get(r.Context(), jobID, caller.UserID, caller.Role)
	if err != nil {
		WriteManagerError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// PauseJobHandler requests a graceful stop of a running job
// POST /api/jobs/{id}/pause
func (h *JobHandler) PauseJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	caller := CallerIdentity(r)

	if err := h.manager.Pause(r.Context(), jobID, caller.UserID, caller.Role); err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Pause rejected")
		WriteManagerError(w, err)
		return
	}
	WriteSuccess(w, "Pause requested")
}

// ResumeJobHandler re-dispatches a paused job from its checkpoint
// POST /api/jobs/{id}/resume
func (h *JobHandler) ResumeJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	caller := CallerIdentity(r)

	if err := h.manager.Resume(r.Context(), jobID, caller.UserID, caller.Role); err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Resume rejected")
		WriteManagerError(w, err)
		return
	}
	WriteSuccess(w, "Job resumed")
}

// CancelJobHandler terminates a job, keeping artifacts generated so far
// POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	caller := CallerIdentity(r)

	if err := h.manager.Cancel(r.Context(), jobID, caller.UserID, caller.Role); err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Cancel rejected")
		WriteManagerError(w, err)
		return
	}
	WriteSuccess(w, "Job cancelled")
}

// DeleteJobHandler removes a settled job record
// DELETE /api/jobs/{id}
func (h *JobHandler) DeleteJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	caller := CallerIdentity(r)

	if err := h.manager.Delete(r.Context(), jobID, caller.UserID, caller.Role); err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Delete rejected")
		WriteManagerError(w, err)
		return
	}
	WriteSuccess(w, "Job deleted")
}

// RefreshMetadataHandler re-runs metadata inference for a job
// POST /api/jobs/{id}/metadata?force=true
func (h *JobHandler) RefreshMetadataHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	caller := CallerIdentity(r)
	force := r.URL.Query().Get("force") == "true"

	if err := h.manager.RefreshMetadata(r.Context(), jobID, caller.UserID, caller.Role, force); err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Metadata refresh failed")
		WriteManagerError(w, err)
		return
	}
	WriteSuccess(w, "Metadata refreshed")
}

// StatsHandler reports queue, backpressure, and pool cache counters
// GET /api/stats
func (h *JobHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.manager.Stats())
}
