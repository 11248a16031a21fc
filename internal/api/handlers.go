package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bobarin/storyreel/internal/events"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/worker"
)

type Handler struct {
	engine *worker.Engine
	bus    *events.Bus
}

func NewHandler(engine *worker.Engine, bus *events.Bus) *Handler {
	return &Handler{engine: engine, bus: bus}
}

type SubmitJobRequest struct {
	InputText string            `json:"input_text"`
	Options   models.JobOptions `json:"options"`
}

type SubmitJobResponse struct {
	JobID  uuid.UUID        `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

// SubmitJob handles POST /v1/jobs
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.InputText == "" {
		respondError(w, http.StatusBadRequest, "input_text is required")
		return
	}

	jobID, err := h.engine.Submit(req.InputText, req.Options)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, SubmitJobResponse{
		JobID:  jobID,
		Status: models.JobStatusPending,
	})
}

// GetJob handles GET /v1/jobs/{id} — a point-in-time snapshot for pollers.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job id")
		return
	}

	job, ok := h.engine.Job(jobID)
	if !ok {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// CancelJob handles DELETE /v1/jobs/{id}
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job id")
		return
	}

	if err := h.engine.Cancel(jobID); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
