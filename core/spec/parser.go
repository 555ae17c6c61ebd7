package spec

import (
	"fmt"

	"textml-orchestrator/core/models"

	"gopkg.in/yaml.v3"
)

// trainingSpec is the YAML document clients may submit instead of inline
// JSON config:
//
//	training:
//	  epochs: 200
//	  learning_rate: 0.3
//	  validation_split: 0.2
//	  max_features: 2000
//	  grid_search: true
type trainingSpec struct {
	Training models.TrainingConfig `yaml:"training"`
}

// ParseTrainingSpec parses and validates a YAML training spec, returning a
// config with defaults applied.
func ParseTrainingSpec(data []byte) (models.TrainingConfig, error) {
	var s trainingSpec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return models.TrainingConfig{}, fmt.Errorf("parse training spec: %w", err)
	}

	cfg := s.Training
	if err := validate(cfg); err != nil {
		return models.TrainingConfig{}, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func validate(cfg models.TrainingConfig) error {
	// Zero values mean "use the default"; only out-of-range values are
	// rejected.
	if cfg.Epochs < 0 || cfg.Epochs > 10000 {
		return fmt.Errorf("epochs must be between 0 (default) and 10000, got %d", cfg.Epochs)
	}
	if cfg.LearningRate < 0 || cfg.LearningRate > 1 {
		return fmt.Errorf("learning_rate must be between 0 (default) and 1, got %g", cfg.LearningRate)
	}
	if cfg.ValidationSplit < 0 || cfg.ValidationSplit >= 1 {
		return fmt.Errorf("validation_split must be in [0, 1), 0 meaning default, got %g", cfg.ValidationSplit)
	}
	if cfg.MaxFeatures < 0 || cfg.MaxFeatures > 100000 {
		return fmt.Errorf("max_features must be between 0 (default) and 100000, got %d", cfg.MaxFeatures)
	}
	return nil
}
