package routes

import (
	"textml-orchestrator/api/rest/handlers"
	"textml-orchestrator/core/repository"
	"textml-orchestrator/core/service"
	"textml-orchestrator/pkg/logger"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, svc *service.TrainingService, db *repository.DB, log *logger.Logger) {
	eventRepo := repository.NewEventRepository(db)
	jobHandler := handlers.NewJobHandler(svc, eventRepo, log)

	api := r.PathPrefix("/v1").Subrouter()

	// Training job endpoints
	api.HandleFunc("/projects/{projectId}/train", jobHandler.StartTraining).Methods("POST")
	api.HandleFunc("/projects/{projectId}/jobs", jobHandler.ListProjectJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/cancel", jobHandler.CancelJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/events", jobHandler.GetJobEvents).Methods("GET")

	// Prediction endpoint
	api.HandleFunc("/projects/{projectId}/predict", jobHandler.Predict).Methods("POST")
}
