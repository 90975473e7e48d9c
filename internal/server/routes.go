package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/handlers"
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.app.JobHandler.CollectionHandler) // GET (list), POST (submit)
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.ItemHandler)      // GET/DELETE /{id}, POST /{id}/{action}
	mux.HandleFunc("/api/stats", s.app.JobHandler.StatsHandler)

	// Generated artifacts, addressed by the locator's URL scheme
	mux.HandleFunc("/jobs/", s.app.FileHandler.ServeFileHandler) // GET /jobs/{id}/files/{path}

	// Metrics scrape endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))

	// API routes - System
	mux.HandleFunc("/api/version", s.versionHandler)
	mux.HandleFunc("/api/health", s.healthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

// versionHandler reports build information
// GET /api/version
func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	if !handlers.RequireMethod(w, r, http.MethodGet) {
		return
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"service": "verso",
		"version": common.Version,
		"build":   common.Build,
	})
}

// healthHandler reports liveness
// GET /api/health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !handlers.RequireMethod(w, r, http.MethodGet) {
		return
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"stats":  s.app.Manager.Stats(),
	})
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "Unknown API route: "+r.URL.Path)
}
