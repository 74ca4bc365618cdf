package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"fitclip/internal/check"
	"fitclip/internal/config"
	"fitclip/internal/jobs"
	"fitclip/internal/probe"
)

// Handler provides HTTP API handlers over the queue and sequencer
type Handler struct {
	queue     *jobs.Queue
	sequencer *jobs.Sequencer
	checker   *check.Checker
	cfg       *config.Config
}

// NewHandler creates a new API handler
func NewHandler(queue *jobs.Queue, sequencer *jobs.Sequencer, checker *check.Checker, cfg *config.Config) *Handler {
	return &Handler{
		queue:     queue,
		sequencer: sequencer,
		checker:   checker,
		cfg:       cfg,
	}
}

// response helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// CreateJobsRequest is the request body for enqueueing jobs. The override
// fields are optional; fields left null fall back to the configured defaults.
type CreateJobsRequest struct {
	Paths []string `json:"paths"`

	TargetSizeMB     *float64 `json:"target_size_mb,omitempty"`
	Encoder          *string  `json:"encoder,omitempty"`
	SpeedPreset      *string  `json:"speed_preset,omitempty"`
	MaxHeight        *int     `json:"max_height,omitempty"`
	AudioBitrateKbps *int     `json:"audio_bitrate_kbps,omitempty"`
	FrameRateCap     *float64 `json:"frame_rate_cap,omitempty"`
	OverheadFactor   *float64 `json:"overhead_factor,omitempty"`
}

// resolveSettings merges request overrides over the configured defaults
func (h *Handler) resolveSettings(req *CreateJobsRequest) jobs.Settings {
	s := h.cfg.Settings()
	if req.TargetSizeMB != nil {
		s.TargetSizeBytes = int64(*req.TargetSizeMB * 1024 * 1024)
	}
	if req.Encoder != nil {
		s.Encoder = *req.Encoder
	}
	if req.SpeedPreset != nil {
		s.SpeedPreset = *req.SpeedPreset
	}
	if req.MaxHeight != nil {
		s.MaxHeight = *req.MaxHeight
	}
	if req.AudioBitrateKbps != nil {
		s.AudioBitrateKbps = *req.AudioBitrateKbps
	}
	if req.FrameRateCap != nil {
		s.FrameRateCap = *req.FrameRateCap
	}
	if req.OverheadFactor != nil {
		s.OverheadFactor = *req.OverheadFactor
	}
	return s
}

// CreateJobs handles POST /api/jobs.
// Every path is validated before anything is enqueued, so a bad path
// rejects the whole request instead of queueing half of it.
func (h *Handler) CreateJobs(w http.ResponseWriter, r *http.Request) {
	var req CreateJobsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "no paths provided")
		return
	}

	settings := h.resolveSettings(&req)
	if err := settings.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sizes := make(map[string]int64, len(req.Paths))
	for _, path := range req.Paths {
		info, err := os.Stat(path)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot access %s", path))
			return
		}
		if info.IsDir() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is a directory", path))
			return
		}
		if !probe.IsVideoFile(path) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is not a video file", path))
			return
		}
		sizes[path] = info.Size()
	}

	created := make([]*jobs.Job, 0, len(req.Paths))
	for _, path := range req.Paths {
		job, err := h.queue.Add(path, h.cfg.OutputPathFor(path), sizes[path], settings)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		created = append(created, job)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"jobs": created,
	})
}

// ListJobs handles GET /api/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  h.queue.List(),
		"stats": h.queue.Stats(),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job ID required")
		return
	}

	job := h.queue.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// CancelJob handles POST /api/jobs/{id}/cancel.
// For the job currently being processed, the encoder process has exited
// by the time the response is written.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job ID required")
		return
	}

	if h.queue.Get(id) == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if err := h.sequencer.Cancel(id); err != nil {
		// Already finished
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// RemoveJob handles DELETE /api/jobs/{id}.
// The job currently being processed is cancelled before removal.
func (h *Handler) RemoveJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job ID required")
		return
	}

	job := h.queue.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if job.IsActive() {
		// Races with the job finishing on its own are settled by Remove
		_ = h.sequencer.Cancel(id)
	}

	if err := h.queue.Remove(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// ReorderRequest is the request body for moving a queued job
type ReorderRequest struct {
	// Position is the target slot among queued jobs, 0 = next up
	Position int `json:"position"`
}

// ReorderJob handles POST /api/jobs/{id}/reorder
func (h *Handler) ReorderJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job ID required")
		return
	}

	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.queue.Reorder(id, req.Position); err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, jobs.ErrJobNotQueued):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "moved"})
}

// ClearFinished handles POST /api/jobs/clear
func (h *Handler) ClearFinished(w http.ResponseWriter, r *http.Request) {
	count := h.queue.ClearFinished()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": count,
		"message": fmt.Sprintf("Cleared %d jobs", count),
	})
}

// Stats handles GET /api/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.Stats())
}

// Tools handles GET /api/tools
func (h *Handler) Tools(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	writeJSON(w, http.StatusOK, h.checker.Run(ctx, h.cfg))
}

// GetConfig handles GET /api/config.
// Returns the default encode settings new jobs start from.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"output_dir":    h.cfg.OutputDir,
		"output_suffix": h.cfg.OutputSuffix,
		"defaults": map[string]interface{}{
			"target_size_mb":     h.cfg.Defaults.TargetSizeMB,
			"encoder":            h.cfg.Defaults.Encoder,
			"speed_preset":       h.cfg.Defaults.SpeedPreset,
			"max_height":         h.cfg.Defaults.MaxHeight,
			"audio_bitrate_kbps": h.cfg.Defaults.AudioBitrateKbps,
			"frame_rate_cap":     h.cfg.Defaults.FrameRateCap,
			"overhead_factor":    h.cfg.Defaults.OverheadFactor,
		},
	})
}
