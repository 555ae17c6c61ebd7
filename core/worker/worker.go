package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"textml-orchestrator/core/models"
	"textml-orchestrator/core/queue"
	"textml-orchestrator/pkg/logger"
	"textml-orchestrator/training"
)

// errCancelled aborts a training run when the job's cancellation flag was
// set mid-flight.
var errCancelled = errors.New("job cancelled")

// JobStore is the job persistence surface the worker drives transitions
// through. All transitions are guarded in the store, so calling them on a
// job in the wrong state is a no-op rather than a corruption.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*models.TrainingJob, error)
	MarkTraining(ctx context.Context, id string) (bool, error)
	MarkReady(ctx context.Context, id string, result *models.TrainingResult, modelPath string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	UpdateProgress(ctx context.Context, id string, progress float64) error
}

// DatasetSource loads the frozen dataset snapshot a job trains on.
type DatasetSource interface {
	LoadDatasetSnapshot(ctx context.Context, path string) ([]models.TextExample, error)
}

// ModelSink stores the trained bundle.
type ModelSink interface {
	SaveModel(ctx context.Context, projectID string, b *training.Bundle) (string, error)
}

// ProgressTracker mirrors status and progress into a fast cache. Optional;
// failures are logged and never fail the job.
type ProgressTracker interface {
	SetStatus(ctx context.Context, jobID, status string) error
	SetProgress(ctx context.Context, jobID string, progress float64) error
}

// Trainer fits a model from a config and dataset, reporting progress
// through the checkpoint callback.
type Trainer interface {
	Train(cfg models.TrainingConfig, examples []models.TextExample, checkpoint training.Checkpoint) (*models.TrainingResult, *training.Bundle, error)
}

// Worker consumes start-training deliveries and runs the training pipeline
// for each. At most maxConcurrent jobs run at once; deliveries beyond that
// are returned to the broker. Processing is idempotent: redeliveries of a
// finished or running job are acknowledged without re-running it.
type Worker struct {
	jobs     JobStore
	datasets DatasetSource
	modelOut ModelSink
	tracker  ProgressTracker
	trainer  Trainer
	log      *logger.Logger

	maxConcurrent int

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(jobs JobStore, datasets DatasetSource, modelOut ModelSink, tracker ProgressTracker, trainer Trainer, maxConcurrent int, log *logger.Logger) *Worker {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Worker{
		jobs:          jobs,
		datasets:      datasets,
		modelOut:      modelOut,
		tracker:       tracker,
		trainer:       trainer,
		log:           log,
		maxConcurrent: maxConcurrent,
		inflight:      make(map[string]struct{}),
	}
}

// HandleDelivery implements queue.Handler.
func (w *Worker) HandleDelivery(d queue.Delivery) {
	msg, err := queue.ParseMessage(d.Body())
	if err != nil {
		// Poison message: acknowledge and drop, retrying cannot fix it.
		w.log.Warn("dropping poison message", "error", err)
		w.ack(d)
		return
	}

	log := w.log.With("jobId", msg.JobID)

	w.mu.Lock()
	if _, running := w.inflight[msg.JobID]; running {
		w.mu.Unlock()
		// Duplicate delivery of a job this worker is already running.
		log.Info("duplicate delivery for in-flight job, acknowledging")
		w.ack(d)
		return
	}
	if len(w.inflight) >= w.maxConcurrent {
		w.mu.Unlock()
		log.Info("at capacity, returning delivery to broker")
		if err := d.Requeue(); err != nil {
			log.Error("requeue failed", "error", err)
		}
		return
	}
	w.inflight[msg.JobID] = struct{}{}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.inflight, msg.JobID)
		w.mu.Unlock()
	}()

	w.runJob(context.Background(), msg.JobID, d, log)
}

// runJob executes the full training pipeline for one claimed delivery.
func (w *Worker) runJob(ctx context.Context, jobID string, d queue.Delivery, log *logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during training", "panic", r)
			w.fail(ctx, jobID, fmt.Sprintf("internal error: %v", r), log)
			w.ack(d)
		}
	}()

	job, err := w.jobs.GetJob(ctx, jobID)
	if err != nil {
		// Unknown job id in a well-formed message: nothing to retry against.
		log.Warn("delivery references unknown job, dropping", "error", err)
		w.ack(d)
		return
	}

	if job.Status != models.JobStatusQueued {
		// Redelivery of an already-claimed or finished job.
		log.Info("job not in queued status, acknowledging", "status", job.Status)
		w.ack(d)
		return
	}

	if job.Cancelled {
		w.fail(ctx, jobID, "cancelled before training started", log)
		w.ack(d)
		return
	}

	claimed, err := w.jobs.MarkTraining(ctx, jobID)
	if err != nil {
		log.Error("claim job", "error", err)
		w.requeue(d, log)
		return
	}
	if !claimed {
		// Another worker won the claim between GetJob and here.
		log.Info("job already claimed, acknowledging")
		w.ack(d)
		return
	}
	w.trackStatus(ctx, jobID, string(models.JobStatusTraining))
	log.Info("training started", "projectId", job.ProjectID)

	examples, err := w.datasets.LoadDatasetSnapshot(ctx, job.DatasetPath)
	if err != nil {
		log.Error("load dataset snapshot", "error", err)
		w.fail(ctx, jobID, "failed to load dataset snapshot", log)
		w.ack(d)
		return
	}

	checkpoint := func(stage string, progress float64) error {
		if err := w.jobs.UpdateProgress(ctx, jobID, progress); err != nil {
			log.Warn("update progress", "stage", stage, "error", err)
		}
		w.trackProgress(ctx, jobID, progress)

		current, err := w.jobs.GetJob(ctx, jobID)
		if err == nil && current.Cancelled {
			return errCancelled
		}
		return nil
	}

	result, bundle, err := w.trainer.Train(job.Config, examples, checkpoint)
	if err != nil {
		switch {
		case errors.Is(err, errCancelled):
			w.fail(ctx, jobID, "cancelled during training", log)
		case training.IsValidationError(err):
			w.fail(ctx, jobID, err.Error(), log)
		default:
			log.Error("training failed", "error", err)
			w.fail(ctx, jobID, err.Error(), log)
		}
		w.ack(d)
		return
	}

	modelPath, err := w.modelOut.SaveModel(ctx, job.ProjectID, bundle)
	if err != nil {
		// Storage failures are transient; let the broker redeliver so the job
		// can be retried by a worker once storage is back.
		log.Error("save model artifact", "error", err)
		w.requeue(d, log)
		return
	}

	if err := w.jobs.MarkReady(ctx, jobID, result, modelPath); err != nil {
		log.Error("mark job ready", "error", err)
		w.requeue(d, log)
		return
	}
	w.trackStatus(ctx, jobID, string(models.JobStatusReady))
	w.trackProgress(ctx, jobID, 100)

	log.Info("training completed",
		"projectId", job.ProjectID,
		"accuracy", result.Accuracy,
		"modelPath", modelPath)
	w.ack(d)
}

func (w *Worker) fail(ctx context.Context, jobID, reason string, log *logger.Logger) {
	if err := w.jobs.MarkFailed(ctx, jobID, reason); err != nil {
		log.Error("mark job failed", "reason", reason, "error", err)
		return
	}
	w.trackStatus(ctx, jobID, string(models.JobStatusFailed))
	log.Info("job failed", "reason", reason)
}

func (w *Worker) ack(d queue.Delivery) {
	if err := d.Ack(); err != nil {
		w.log.Error("ack failed", "error", err)
	}
}

func (w *Worker) requeue(d queue.Delivery, log *logger.Logger) {
	if err := d.Requeue(); err != nil {
		log.Error("requeue failed", "error", err)
	}
}

func (w *Worker) trackStatus(ctx context.Context, jobID, status string) {
	if w.tracker == nil {
		return
	}
	if err := w.tracker.SetStatus(ctx, jobID, status); err != nil {
		w.log.Warn("track status", "jobId", jobID, "error", err)
	}
}

func (w *Worker) trackProgress(ctx context.Context, jobID string, progress float64) {
	if w.tracker == nil {
		return
	}
	if err := w.tracker.SetProgress(ctx, jobID, progress); err != nil {
		w.log.Warn("track progress", "jobId", jobID, "error", err)
	}
}
