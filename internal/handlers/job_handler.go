package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lectern/internal/jobs"
	"github.com/ternarybob/lectern/internal/models"
)

// JobHandler handles HTTP requests for indexing jobs
type JobHandler struct {
	manager *jobs.Manager
	logger  arbor.ILogger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(manager *jobs.Manager, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		manager: manager,
		logger:  logger,
	}
}

// indexRequest is the body of POST /jobs/index. Absent option fields
// fall back to the defaults, so the envelope decodes in two steps.
type indexRequest struct {
	LibraryRoot string          `json:"library_root"`
	Options     json.RawMessage `json:"options"`
}

// CreateJobHandler handles POST /jobs/index
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}

	opts := models.DefaultJobOptions()
	if len(req.Options) > 0 {
		if err := json.Unmarshal(req.Options, &opts); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request_body")
			return
		}
	}

	jobID, err := h.manager.CreateJob(r.Context(), req.LibraryRoot, opts)
	if err != nil {
		if errors.Is(err, jobs.ErrLibraryRootNotFound) {
			WriteError(w, http.StatusBadRequest, "library_root_not_found")
			return
		}
		h.logger.Error().Err(err).Str("library_root", req.LibraryRoot).Msg("Failed to create job")
		WriteError(w, http.StatusInternalServerError, "job_create_failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

// GetJobHandler handles GET /jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	snap, err := h.manager.JobSnapshot(r.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job snapshot")
		WriteError(w, http.StatusInternalServerError, "job_snapshot_failed")
		return
	}
	if snap == nil {
		WriteError(w, http.StatusNotFound, "job_not_found")
		return
	}

	resp := map[string]interface{}{
		"ok":           true,
		"job_id":       snap.Job.JobID,
		"status":       snap.Job.Status,
		"library_root": snap.Job.LibraryRoot,
		"created_at":   snap.Job.CreatedAt,
		"started_at":   snap.Job.StartedAt,
		"finished_at":  snap.Job.FinishedAt,
		"options":      snap.Options,
		"stats":        snap.Stats,
	}
	if snap.Running != nil {
		resp["now_running"] = snap.Running
	} else {
		resp["now_running"] = nil
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ControlHandler handles POST /jobs/{id}/pause|resume|cancel. Controls
// on unknown or finished jobs are acknowledged no-ops.
func (h *JobHandler) ControlHandler(w http.ResponseWriter, r *http.Request, jobID, action string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	switch strings.ToLower(action) {
	case "pause":
		h.manager.Pause(r.Context(), jobID)
	case "resume":
		h.manager.Resume(r.Context(), jobID)
	case "cancel":
		h.manager.Cancel(r.Context(), jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
