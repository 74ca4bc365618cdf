package api

import (
	"net/http"
)

// NewRouter creates the HTTP routing table for the API
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	// Job management
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("POST /api/jobs", h.CreateJobs)
	mux.HandleFunc("GET /api/jobs/stream", h.JobStream)
	mux.HandleFunc("POST /api/jobs/clear", h.ClearFinished)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.RemoveJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", h.CancelJob)
	mux.HandleFunc("POST /api/jobs/{id}/reorder", h.ReorderJob)

	// Environment
	mux.HandleFunc("GET /api/stats", h.Stats)
	mux.HandleFunc("GET /api/tools", h.Tools)
	mux.HandleFunc("GET /api/config", h.GetConfig)

	return mux
}
