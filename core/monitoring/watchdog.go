package monitoring

import (
	"context"
	"time"

	"textml-orchestrator/core/models"
	"textml-orchestrator/pkg/logger"
)

// staleLister lists jobs stuck in status training past a threshold.
type staleLister interface {
	ListStaleTraining(ctx context.Context, olderThan time.Duration) ([]*models.TrainingJob, error)
}

// StalenessWatchdog periodically reports jobs that have been training
// longer than the configured threshold. It only reports; stuck jobs are
// never auto-failed, because the broker redelivers unacked messages and a
// slow-but-alive run must not be killed from the outside.
type StalenessWatchdog struct {
	jobs      staleLister
	threshold time.Duration
	interval  time.Duration
	log       *logger.Logger
}

func NewStalenessWatchdog(jobs staleLister, threshold, interval time.Duration, log *logger.Logger) *StalenessWatchdog {
	return &StalenessWatchdog{
		jobs:      jobs,
		threshold: threshold,
		interval:  interval,
		log:       log,
	}
}

// Start runs the watchdog loop until the context is cancelled.
func (w *StalenessWatchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("staleness watchdog started",
		"threshold", w.threshold.String(), "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.log.Info("staleness watchdog stopped")
			return
		case <-ticker.C:
			if _, err := w.checkOnce(ctx); err != nil {
				w.log.Error("staleness check failed", "error", err)
			}
		}
	}
}

// checkOnce performs a single staleness sweep and returns how many stale
// jobs it found.
func (w *StalenessWatchdog) checkOnce(ctx context.Context) (int, error) {
	stale, err := w.jobs.ListStaleTraining(ctx, w.threshold)
	if err != nil {
		return 0, err
	}
	for _, job := range stale {
		age := time.Duration(0)
		if job.StartedAt != nil {
			age = time.Since(*job.StartedAt).Round(time.Second)
		}
		w.log.Warn("job training longer than threshold",
			"jobId", job.ID,
			"projectId", job.ProjectID,
			"progress", job.Progress,
			"age", age.String())
	}
	return len(stale), nil
}
