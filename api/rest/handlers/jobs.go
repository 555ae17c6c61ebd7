package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"textml-orchestrator/core/models"
	"textml-orchestrator/core/repository"
	"textml-orchestrator/core/service"
	"textml-orchestrator/core/spec"
	"textml-orchestrator/pkg/logger"
	"textml-orchestrator/storage"

	"github.com/gorilla/mux"
)

// JobHandler handles training-job and prediction HTTP requests
type JobHandler struct {
	svc       *service.TrainingService
	eventRepo *repository.EventRepository
	log       *logger.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(svc *service.TrainingService, eventRepo *repository.EventRepository, log *logger.Logger) *JobHandler {
	return &JobHandler{svc: svc, eventRepo: eventRepo, log: log}
}

// StartTrainingRequest represents the request to start a training job.
// Config may be given inline as JSON or as a YAML spec document; the YAML
// wins when both are present.
type StartTrainingRequest struct {
	Config   *models.TrainingConfig `json:"config,omitempty"`
	SpecYAML string                 `json:"spec_yaml,omitempty"`
}

// StartTrainingResponse represents the response after submitting a job
type StartTrainingResponse struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// StartTraining handles POST /v1/projects/{projectId}/train
func (h *JobHandler) StartTraining(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectId"]

	var req StartTrainingRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	var cfg models.TrainingConfig
	switch {
	case req.SpecYAML != "":
		parsed, err := spec.ParseTrainingSpec([]byte(req.SpecYAML))
		if err != nil {
			http.Error(w, "Invalid training spec: "+err.Error(), http.StatusBadRequest)
			return
		}
		cfg = parsed
	case req.Config != nil:
		cfg = *req.Config
	}

	job, err := h.svc.CreateTrainingJob(r.Context(), projectID, cfg)
	if err != nil {
		if errors.Is(err, service.ErrEmptyDataset) {
			http.Error(w, "Project has no examples to train on", http.StatusBadRequest)
			return
		}
		h.log.Error("create training job", "projectId", projectID, "error", err)
		http.Error(w, "Failed to create training job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, StartTrainingResponse{
		ID:        job.ID,
		ProjectID: job.ProjectID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
	})
}

// GetJob handles GET /v1/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := h.svc.GetJobStatus(r.Context(), jobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get job", "jobId", jobID, "error", err)
		http.Error(w, "Failed to load job", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"id":        job.ID,
		"projectId": job.ProjectID,
		"status":    job.Status,
		"cancelled": job.Cancelled,
		"progress":  job.Progress,
		"config":    job.Config,
		"createdAt": job.CreatedAt,
		"updatedAt": job.UpdatedAt,
	}
	if job.Result != nil {
		response["result"] = job.Result
	}
	if job.Error != "" {
		response["error"] = job.Error
	}
	if job.StartedAt != nil {
		response["startedAt"] = job.StartedAt
	}
	if job.CompletedAt != nil {
		response["completedAt"] = job.CompletedAt
	}

	writeJSON(w, http.StatusOK, response)
}

// ListProjectJobs handles GET /v1/projects/{projectId}/jobs
func (h *JobHandler) ListProjectJobs(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectId"]

	jobs, err := h.svc.GetProjectJobs(r.Context(), projectID)
	if err != nil {
		h.log.Error("list project jobs", "projectId", projectID, "error", err)
		http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CancelJob handles POST /v1/jobs/{id}/cancel
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	ok, err := h.svc.CancelJob(r.Context(), jobID)
	if err != nil {
		h.log.Error("cancel job", "jobId", jobID, "error", err)
		http.Error(w, "Failed to cancel job", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Job is already finished or does not exist", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":        jobID,
		"cancelled": true,
	})
}

// GetJobEvents handles GET /v1/jobs/{id}/events
func (h *JobHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	events, err := h.eventRepo.GetJobEvents(r.Context(), jobID, 100)
	if err != nil {
		h.log.Error("get job events", "jobId", jobID, "error", err)
		http.Error(w, "Failed to load job events", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":  jobID,
		"events": events,
	})
}

// PredictRequest represents the request to classify a text
type PredictRequest struct {
	Text string `json:"text"`
}

// Predict handles POST /v1/projects/{projectId}/predict
func (h *JobHandler) Predict(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectId"]

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "Text is required", http.StatusBadRequest)
		return
	}

	result, err := h.svc.Predict(r.Context(), projectID, req.Text)
	if errors.Is(err, storage.ErrNotTrained) {
		http.Error(w, "Project has no trained model", http.StatusNotFound)
		return
	}
	if errors.Is(err, storage.ErrCorruptArtifact) {
		h.log.Error("predict", "projectId", projectID, "error", err)
		http.Error(w, "Stored model is corrupt, retrain the project", http.StatusInternalServerError)
		return
	}
	if err != nil {
		h.log.Error("predict", "projectId", projectID, "error", err)
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
