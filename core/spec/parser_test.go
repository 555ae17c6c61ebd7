package spec

import (
	"strings"
	"testing"
)

func TestParseTrainingSpecFull(t *testing.T) {
	yaml := `
training:
  epochs: 200
  learning_rate: 0.3
  validation_split: 0.25
  max_features: 2000
  grid_search: true
`
	cfg, err := ParseTrainingSpec([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseTrainingSpec: %v", err)
	}
	if cfg.Epochs != 200 {
		t.Errorf("Epochs = %d, want 200", cfg.Epochs)
	}
	if cfg.LearningRate != 0.3 {
		t.Errorf("LearningRate = %v, want 0.3", cfg.LearningRate)
	}
	if cfg.ValidationSplit != 0.25 {
		t.Errorf("ValidationSplit = %v, want 0.25", cfg.ValidationSplit)
	}
	if cfg.MaxFeatures != 2000 {
		t.Errorf("MaxFeatures = %d, want 2000", cfg.MaxFeatures)
	}
	if !cfg.GridSearch {
		t.Error("GridSearch = false, want true")
	}
}

func TestParseTrainingSpecAppliesDefaults(t *testing.T) {
	cfg, err := ParseTrainingSpec([]byte("training: {}"))
	if err != nil {
		t.Fatalf("ParseTrainingSpec: %v", err)
	}
	if cfg.Epochs != 100 || cfg.LearningRate != 0.001 || cfg.ValidationSplit != 0.2 || cfg.MaxFeatures != 1000 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestParseTrainingSpecRejectsBadYAML(t *testing.T) {
	if _, err := ParseTrainingSpec([]byte("training: [not: a map")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseTrainingSpecRejectsOutOfRange(t *testing.T) {
	cases := map[string]string{
		"epochs":           "training:\n  epochs: 20000",
		"learning_rate":    "training:\n  learning_rate: 50",
		"validation_split": "training:\n  validation_split: 1.5",
		"max_features":     "training:\n  max_features: 1000000",
	}
	for field, yaml := range cases {
		_, err := ParseTrainingSpec([]byte(yaml))
		if err == nil {
			t.Fatalf("%s: expected validation error", field)
		}
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("%s: error does not name the field: %v", field, err)
		}
	}
}
