package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyTTL = time.Hour

// Tracker mirrors job status and progress into Redis so pollers can read
// them without hitting the database. Postgres stays the source of truth;
// these keys are a cache and expire on their own.
type Tracker struct {
	client *redis.Client
}

func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

func statusKey(jobID string) string   { return "job_status:" + jobID }
func progressKey(jobID string) string { return "job_progress:" + jobID }

// SetStatus records the job's current status.
func (t *Tracker) SetStatus(ctx context.Context, jobID, status string) error {
	if err := t.client.Set(ctx, statusKey(jobID), status, keyTTL).Err(); err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return nil
}

// SetProgress records the job's progress percentage.
func (t *Tracker) SetProgress(ctx context.Context, jobID string, progress float64) error {
	if err := t.client.Set(ctx, progressKey(jobID), progress, keyTTL).Err(); err != nil {
		return fmt.Errorf("set job progress: %w", err)
	}
	return nil
}

// GetStatus reads the cached status. Returns empty string on a cache miss.
func (t *Tracker) GetStatus(ctx context.Context, jobID string) (string, error) {
	val, err := t.client.Get(ctx, statusKey(jobID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get job status: %w", err)
	}
	return val, nil
}

// GetProgress reads the cached progress. Returns -1 on a cache miss.
func (t *Tracker) GetProgress(ctx context.Context, jobID string) (float64, error) {
	val, err := t.client.Get(ctx, progressKey(jobID)).Float64()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("get job progress: %w", err)
	}
	return val, nil
}

// Clear drops both keys for a job.
func (t *Tracker) Clear(ctx context.Context, jobID string) error {
	if err := t.client.Del(ctx, statusKey(jobID), progressKey(jobID)).Err(); err != nil {
		return fmt.Errorf("clear job progress: %w", err)
	}
	return nil
}
