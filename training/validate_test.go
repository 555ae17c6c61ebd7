package training

import (
	"strings"
	"testing"

	"textml-orchestrator/core/models"
)

func dataset(perLabel map[string]int) []models.TextExample {
	var out []models.TextExample
	for label, n := range perLabel {
		for i := 0; i < n; i++ {
			out = append(out, models.TextExample{Text: label + " example", Label: label})
		}
	}
	return out
}

func TestValidateDatasetTooFewTotal(t *testing.T) {
	err := ValidateDataset(dataset(map[string]int{"a": 4, "b": 5}))
	if err == nil {
		t.Fatal("expected error for 9 examples")
	}
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %T", err)
	}
	if !strings.Contains(err.Error(), "at least 10 examples total") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestValidateDatasetSingleLabel(t *testing.T) {
	err := ValidateDataset(dataset(map[string]int{"sports": 10}))
	if err == nil {
		t.Fatal("expected error for single-label dataset")
	}
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %T", err)
	}
	if !strings.Contains(err.Error(), "at least 2 distinct labels") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestValidateDatasetLabelTooSmall(t *testing.T) {
	err := ValidateDataset(dataset(map[string]int{"a": 8, "b": 2}))
	if err == nil {
		t.Fatal("expected error for under-represented label")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.Label != "b" {
		t.Fatalf("Label = %q, want %q", ve.Label, "b")
	}
}

func TestValidateDatasetLabelTooLarge(t *testing.T) {
	err := ValidateDataset(dataset(map[string]int{"a": 51, "b": 10}))
	if err == nil {
		t.Fatal("expected error for oversized label")
	}
	if !strings.Contains(err.Error(), "too many examples") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestValidateDatasetAtBounds(t *testing.T) {
	// Exactly at every bound: 10 total, min 3 per label, max 50.
	if err := ValidateDataset(dataset(map[string]int{"a": 3, "b": 3, "c": 4})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateDataset(dataset(map[string]int{"a": 50, "b": 50})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
