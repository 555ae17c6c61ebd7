package service

import (
	"context"
	"errors"
	"fmt"

	"textml-orchestrator/core/models"
	"textml-orchestrator/core/repository"
	"textml-orchestrator/pkg/logger"
	"textml-orchestrator/storage"
	"textml-orchestrator/training"

	"github.com/google/uuid"
)

// ErrEmptyDataset is returned when a project has no labeled examples to
// train on.
var ErrEmptyDataset = errors.New("project has no examples")

// ExampleSource yields a project's current labeled examples.
type ExampleSource interface {
	ProjectExamples(ctx context.Context, projectID string) ([]models.TextExample, error)
}

// JobStore is the subset of job persistence the service needs.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.TrainingJob) error
	GetJob(ctx context.Context, id string) (*models.TrainingJob, error)
	ListProjectJobs(ctx context.Context, projectID string) ([]*models.TrainingJob, error)
	MarkFailed(ctx context.Context, id string, reason string) error
	Cancel(ctx context.Context, id string) (bool, error)
	DeleteProjectJobs(ctx context.Context, projectID string) (int64, error)
}

// BlobStore is the subset of artifact storage the service needs.
type BlobStore interface {
	SaveDatasetSnapshot(ctx context.Context, jobID string, examples []models.TextExample) (string, error)
	LoadModel(ctx context.Context, projectID string) (*training.Bundle, error)
	DeleteModel(ctx context.Context, projectID string) error
}

// JobPublisher enqueues start-training messages.
type JobPublisher interface {
	PublishStartTraining(ctx context.Context, jobID string) error
}

// TrainingService owns the client-facing side of the job lifecycle:
// creating jobs, reading their state, cancelling them, and serving
// predictions from the current model artifact.
type TrainingService struct {
	jobs      JobStore
	examples  ExampleSource
	blobs     BlobStore
	publisher JobPublisher
	log       *logger.Logger

	// GridSearchDefault turns grid search on for jobs whose config does not
	// ask for it. Off by default; grid search multiplies training cost.
	GridSearchDefault bool
}

func NewTrainingService(jobs JobStore, examples ExampleSource, blobs BlobStore, publisher JobPublisher, log *logger.Logger) *TrainingService {
	return &TrainingService{
		jobs:      jobs,
		examples:  examples,
		blobs:     blobs,
		publisher: publisher,
		log:       log,
	}
}

// CreateTrainingJob snapshots the project dataset, persists a queued job
// and publishes the start message. Full dataset validation happens in the
// worker; here only an empty dataset is rejected up front.
func (s *TrainingService) CreateTrainingJob(ctx context.Context, projectID string, cfg models.TrainingConfig) (*models.TrainingJob, error) {
	examples, err := s.examples.ProjectExamples(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project examples: %w", err)
	}
	if len(examples) == 0 {
		return nil, ErrEmptyDataset
	}

	cfg.ApplyDefaults()
	if s.GridSearchDefault {
		cfg.GridSearch = true
	}
	job := &models.TrainingJob{
		ProjectID: projectID,
		Config:    cfg,
	}

	// Snapshot first so the path can be frozen into the job row. Jobs train
	// on the snapshot, never on the live dataset.
	job.ID = uuid.NewString()
	path, err := s.blobs.SaveDatasetSnapshot(ctx, job.ID, examples)
	if err != nil {
		return nil, fmt.Errorf("snapshot dataset: %w", err)
	}
	job.DatasetPath = path

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.publisher.PublishStartTraining(ctx, job.ID); err != nil {
		// The job row exists but no worker will ever see it; fail it so the
		// client is not left with a job stuck in queued.
		s.log.Error("publish start-training failed", "jobId", job.ID, "error", err)
		if markErr := s.jobs.MarkFailed(ctx, job.ID, "failed to enqueue training job"); markErr != nil {
			s.log.Error("mark job failed after publish error", "jobId", job.ID, "error", markErr)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.log.Info("training job created",
		"jobId", job.ID, "projectId", projectID, "examples", len(examples))
	return job, nil
}

// GetJobStatus returns the job with its current state, metrics and error.
func (s *TrainingService) GetJobStatus(ctx context.Context, jobID string) (*models.TrainingJob, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// GetProjectJobs lists a project's jobs, newest first.
func (s *TrainingService) GetProjectJobs(ctx context.Context, projectID string) ([]*models.TrainingJob, error) {
	return s.jobs.ListProjectJobs(ctx, projectID)
}

// CancelJob flips the cooperative cancellation flag. Returns false when the
// job is already terminal or unknown; the flag takes effect at the worker's
// next checkpoint.
func (s *TrainingService) CancelJob(ctx context.Context, jobID string) (bool, error) {
	ok, err := s.jobs.Cancel(ctx, jobID)
	if err != nil {
		return false, err
	}
	if ok {
		s.log.Info("job cancellation requested", "jobId", jobID)
	}
	return ok, nil
}

// DeleteProjectJobs removes a project's jobs, events and model artifact.
func (s *TrainingService) DeleteProjectJobs(ctx context.Context, projectID string) (int64, error) {
	n, err := s.jobs.DeleteProjectJobs(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if err := s.blobs.DeleteModel(ctx, projectID); err != nil {
		s.log.Warn("delete model artifact", "projectId", projectID, "error", err)
	}
	return n, nil
}

// Predict scores text against the project's current model. Returns
// storage.ErrNotTrained when no model artifact exists.
func (s *TrainingService) Predict(ctx context.Context, projectID, text string) (*models.PredictionResult, error) {
	bundle, err := s.blobs.LoadModel(ctx, projectID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, storage.ErrNotTrained
	}
	if err != nil {
		return nil, err
	}
	return training.Predict(bundle, text)
}

var _ ExampleSource = (*repository.ExampleRepository)(nil)
