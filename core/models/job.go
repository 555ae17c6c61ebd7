package models

import "time"

// TrainingJob represents an asynchronous model-training job for a project.
// A job is mutated only by the worker once created; clients may only flip
// the Cancelled flag, which the worker honors at its checkpoints.
type TrainingJob struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"projectId"`
	Status      JobStatus       `json:"status"`
	Cancelled   bool            `json:"cancelled"`
	Progress    float64         `json:"progress"` // 0-100
	Config      TrainingConfig  `json:"config"`
	Result      *TrainingResult `json:"result,omitempty"` // set only when status == ready
	Error       string          `json:"error,omitempty"`  // set only when status == failed
	DatasetPath string          `json:"datasetPath"`      // blob path of the immutable dataset snapshot
	ModelPath   string          `json:"modelPath,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// JobStatus represents the current status of a training job.
// Transitions only move forward: queued -> training -> {ready, failed}.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusTraining JobStatus = "training"
	JobStatusReady    JobStatus = "ready"
	JobStatusFailed   JobStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusReady || s == JobStatusFailed
}

// TrainingConfig is the hyperparameter snapshot frozen into a job at
// creation time.
type TrainingConfig struct {
	Epochs          int     `json:"epochs" yaml:"epochs"`
	LearningRate    float64 `json:"learningRate" yaml:"learning_rate"`
	ValidationSplit float64 `json:"validationSplit" yaml:"validation_split"`
	MaxFeatures     int     `json:"maxFeatures" yaml:"max_features"`
	GridSearch      bool    `json:"gridSearch" yaml:"grid_search"`
}

// ApplyDefaults fills zero-valued fields with the platform defaults.
func (c *TrainingConfig) ApplyDefaults() {
	if c.Epochs <= 0 {
		c.Epochs = 100
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.001
	}
	if c.ValidationSplit <= 0 || c.ValidationSplit >= 1 {
		c.ValidationSplit = 0.2
	}
	if c.MaxFeatures <= 0 {
		c.MaxFeatures = 1000
	}
}

// TrainingResult is the metrics bag produced by a successful training run.
// Accuracy and confidence values are percentages rounded to two decimals.
type TrainingResult struct {
	Accuracy           float64                   `json:"accuracy"`
	CVAccuracy         float64                   `json:"cvAccuracy"`
	CVStd              float64                   `json:"cvStd"`
	Labels             []string                  `json:"labels"`
	PerClassPrecision  map[string]float64        `json:"perClassPrecision"`
	ConfusionMatrix    map[string]map[string]int `json:"confusionMatrix"` // actual -> predicted -> count
	FeatureImportance  map[string][]string       `json:"featureImportance"`
	TrainingExamples   int                       `json:"trainingExamples"`
	ValidationExamples int                       `json:"validationExamples"`
	TotalFeatures      int                       `json:"totalFeatures"`
}

// TextExample is a single labeled text sample.
type TextExample struct {
	Text    string    `json:"text"`
	Label   string    `json:"label"`
	AddedAt time.Time `json:"addedAt,omitempty"`
}

// PredictionResult is the outcome of scoring one input text against a
// trained model.
type PredictionResult struct {
	Label        string            `json:"label"`
	Confidence   float64           `json:"confidence"` // 0-100
	Alternatives []LabelConfidence `json:"alternatives"`
}

// LabelConfidence pairs a label with its confidence percentage.
type LabelConfidence struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}
