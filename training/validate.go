package training

import (
	"errors"
	"fmt"
	"sort"

	"textml-orchestrator/core/models"
)

// Trainability bounds. They guarantee the train/validation split is
// statistically meaningful and cap per-label training cost.
const (
	MinTotalExamples    = 10
	MinDistinctLabels   = 2
	MinExamplesPerLabel = 3
	MaxExamplesPerLabel = 50
)

// ValidationError reports a dataset that does not meet the trainability
// bounds. Label identifies the offending label when the violation is
// label-specific.
type ValidationError struct {
	Label  string
	reason string
}

func (e *ValidationError) Error() string {
	return e.reason
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateDataset checks the trainability bounds before any training work.
func ValidateDataset(examples []models.TextExample) error {
	if len(examples) < MinTotalExamples {
		return &ValidationError{
			reason: fmt.Sprintf("need at least %d examples total (have %d)", MinTotalExamples, len(examples)),
		}
	}

	counts := make(map[string]int)
	for _, ex := range examples {
		counts[ex.Label]++
	}

	// A classifier over one class is degenerate: it can only ever predict
	// that class and reports a meaningless 100% accuracy.
	if len(counts) < MinDistinctLabels {
		return &ValidationError{
			reason: fmt.Sprintf("need at least %d distinct labels (have %d)", MinDistinctLabels, len(counts)),
		}
	}

	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		if counts[label] < MinExamplesPerLabel {
			return &ValidationError{
				Label:  label,
				reason: fmt.Sprintf("label %q needs at least %d examples (has %d)", label, MinExamplesPerLabel, counts[label]),
			}
		}
	}
	for _, label := range labels {
		if counts[label] > MaxExamplesPerLabel {
			return &ValidationError{
				Label:  label,
				reason: fmt.Sprintf("label %q has too many examples (%d), maximum is %d", label, counts[label], MaxExamplesPerLabel),
			}
		}
	}

	return nil
}
