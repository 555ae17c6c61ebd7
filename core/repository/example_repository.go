package repository

import (
	"context"

	"textml-orchestrator/core/models"
)

// ExampleRepository reads the labeled examples of a project. Dataset CRUD is
// owned by the web layer; this service only needs the read side to snapshot
// a dataset at job-creation time.
type ExampleRepository struct {
	db *DB
}

// NewExampleRepository creates a new example repository
func NewExampleRepository(db *DB) *ExampleRepository {
	return &ExampleRepository{db: db}
}

// ProjectExamples returns a project's examples in insertion order.
func (r *ExampleRepository) ProjectExamples(ctx context.Context, projectID string) ([]models.TextExample, error) {
	query := `
		SELECT text, label, added_at
		FROM project_examples
		WHERE project_id = $1
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var examples []models.TextExample
	for rows.Next() {
		var ex models.TextExample
		if err := rows.Scan(&ex.Text, &ex.Label, &ex.AddedAt); err != nil {
			return nil, err
		}
		examples = append(examples, ex)
	}
	return examples, rows.Err()
}
