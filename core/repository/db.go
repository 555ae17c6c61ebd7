package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// DB wraps the sql connection pool shared by the repositories.
type DB struct {
	*sql.DB
}

// NewDB opens a Postgres connection pool and verifies it.
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: db}, nil
}

// Migrate creates the tables this service owns if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS training_jobs (
			id UUID PRIMARY KEY,
			project_id TEXT NOT NULL,
			status TEXT NOT NULL,
			cancelled BOOLEAN NOT NULL DEFAULT FALSE,
			progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			config_json TEXT NOT NULL DEFAULT '{}',
			result_json TEXT,
			error_msg TEXT,
			dataset_path TEXT NOT NULL DEFAULT '',
			model_path TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_training_jobs_project ON training_jobs (project_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS job_events (
			id BIGSERIAL PRIMARY KEY,
			job_id UUID NOT NULL,
			at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			from_status TEXT,
			to_status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events (job_id, at DESC)`,
		`CREATE TABLE IF NOT EXISTS project_examples (
			id BIGSERIAL PRIMARY KEY,
			project_id TEXT NOT NULL,
			text TEXT NOT NULL,
			label TEXT NOT NULL,
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_project_examples_project ON project_examples (project_id, id)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
