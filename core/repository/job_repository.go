package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"textml-orchestrator/core/models"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("training job not found")

// JobRepository handles database operations for training jobs.
// It is the single source of truth for job status: every transition is a
// guarded UPDATE so a job can only move forward through
// queued -> training -> {ready, failed}.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob inserts a new job in status queued and records the initial event.
func (r *JobRepository) CreateJob(ctx context.Context, job *models.TrainingJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	} else if _, err := uuid.Parse(job.ID); err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}

	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	now := time.Now().UTC()
	job.Status = models.JobStatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO training_jobs (
			id, project_id, status, cancelled, progress, config_json,
			dataset_path, created_at, updated_at
		) VALUES ($1, $2, $3, FALSE, 0, $4, $5, $6, $6)
	`
	if _, err := tx.ExecContext(ctx, query,
		job.ID, job.ProjectID, job.Status, string(configJSON), job.DatasetPath, now,
	); err != nil {
		return err
	}

	if err := insertJobEvent(ctx, tx, job.ID, nil, models.JobStatusQueued, "job_created"); err != nil {
		return err
	}

	return tx.Commit()
}

// GetJob retrieves a job by ID
func (r *JobRepository) GetJob(ctx context.Context, id string) (*models.TrainingJob, error) {
	query := `
		SELECT id, project_id, status, cancelled, progress, config_json,
			result_json, error_msg, dataset_path, model_path,
			created_at, started_at, completed_at, updated_at
		FROM training_jobs
		WHERE id = $1
	`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// ListProjectJobs retrieves all jobs for a project, newest first.
func (r *JobRepository) ListProjectJobs(ctx context.Context, projectID string) ([]*models.TrainingJob, error) {
	query := `
		SELECT id, project_id, status, cancelled, progress, config_json,
			result_json, error_msg, dataset_path, model_path,
			created_at, started_at, completed_at, updated_at
		FROM training_jobs
		WHERE project_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.TrainingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkTraining claims a queued job for execution: it transitions
// queued -> training and stamps started_at. Returns false without error if
// the job was not in status queued (already claimed, finished, or unknown).
func (r *JobRepository) MarkTraining(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	query := `
		UPDATE training_jobs
		SET status = $1, started_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	res, err := tx.ExecContext(ctx, query, models.JobStatusTraining, id, models.JobStatusQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	from := models.JobStatusQueued
	if err := insertJobEvent(ctx, tx, id, &from, models.JobStatusTraining, "training_started"); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// MarkReady transitions training -> ready, stores the result metrics and the
// artifact path, and stamps completed_at.
func (r *JobRepository) MarkReady(ctx context.Context, id string, result *models.TrainingResult, modelPath string) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE training_jobs
		SET status = $1, result_json = $2, model_path = $3, progress = 100,
			completed_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND status = $5
	`
	res, err := tx.ExecContext(ctx, query, models.JobStatusReady, string(resultJSON), modelPath, id, models.JobStatusTraining)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s is not in status training", id)
	}

	from := models.JobStatusTraining
	if err := insertJobEvent(ctx, tx, id, &from, models.JobStatusReady, "training_completed"); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkFailed moves a queued or training job to failed with the captured
// error and stamps completed_at. Terminal jobs are left untouched.
func (r *JobRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var from models.JobStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM training_jobs WHERE id = $1`, id).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return err
	}
	if from.Terminal() {
		return nil
	}

	query := `
		UPDATE training_jobs
		SET status = $1, error_msg = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	res, err := tx.ExecContext(ctx, query, models.JobStatusFailed, reason, id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Lost the race to another transition; the job is no longer ours.
		return nil
	}

	if err := insertJobEvent(ctx, tx, id, &from, models.JobStatusFailed, reason); err != nil {
		return err
	}
	return tx.Commit()
}

// Cancel sets the cooperative cancellation flag on a non-terminal job.
// Returns false if the job was already terminal or unknown.
func (r *JobRepository) Cancel(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE training_jobs
		SET cancelled = TRUE, updated_at = NOW()
		WHERE id = $1 AND status IN ($2, $3)
	`
	res, err := r.db.ExecContext(ctx, query, id, models.JobStatusQueued, models.JobStatusTraining)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateProgress updates the progress percentage of a running job.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress float64) error {
	query := `UPDATE training_jobs SET progress = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, progress, id)
	return err
}

// DeleteProjectJobs deletes all jobs (and their events) belonging to a
// project. Used when the owning project is deleted.
func (r *JobRepository) DeleteProjectJobs(ctx context.Context, projectID string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM job_events
		WHERE job_id IN (SELECT id FROM training_jobs WHERE project_id = $1)
	`, projectID); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM training_jobs WHERE project_id = $1`, projectID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// ListStaleTraining lists jobs that have been in status training longer than
// the given threshold. The watchdog reports these; they are never auto-failed.
func (r *JobRepository) ListStaleTraining(ctx context.Context, olderThan time.Duration) ([]*models.TrainingJob, error) {
	query := `
		SELECT id, project_id, status, cancelled, progress, config_json,
			result_json, error_msg, dataset_path, model_path,
			created_at, started_at, completed_at, updated_at
		FROM training_jobs
		WHERE status = $1 AND started_at < $2
		ORDER BY started_at ASC
	`
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := r.db.QueryContext(ctx, query, models.JobStatusTraining, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.TrainingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.TrainingJob, error) {
	var job models.TrainingJob
	var configJSON string
	var resultJSON sql.NullString
	var errorMsg sql.NullString
	var modelPath sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.ProjectID,
		&job.Status,
		&job.Cancelled,
		&job.Progress,
		&configJSON,
		&resultJSON,
		&errorMsg,
		&job.DatasetPath,
		&modelPath,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(configJSON), &job.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config for job %s: %w", job.ID, err)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result models.TrainingResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("unmarshal result for job %s: %w", job.ID, err)
		}
		job.Result = &result
	}
	if errorMsg.Valid {
		job.Error = errorMsg.String
	}
	if modelPath.Valid {
		job.ModelPath = modelPath.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}

func insertJobEvent(ctx context.Context, tx *sql.Tx, jobID string, fromStatus *models.JobStatus, toStatus models.JobStatus, reason string) error {
	query := `
		INSERT INTO job_events (job_id, from_status, to_status, reason)
		VALUES ($1, $2, $3, $4)
	`
	var fromStatusStr *string
	if fromStatus != nil {
		s := string(*fromStatus)
		fromStatusStr = &s
	}
	_, err := tx.ExecContext(ctx, query, jobID, fromStatusStr, toStatus, reason)
	return err
}
