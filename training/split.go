package training

import (
	"math"
	"math/rand"
	"sort"

	"textml-orchestrator/core/models"
)

// splitDataset partitions examples into train/validation. The split is
// stratified by label when every label has enough examples for at least one
// validation sample at the given fraction; otherwise it falls back to a
// plain random split. The fallback is a defined branch, reported through the
// stratified return value.
func splitDataset(examples []models.TextExample, valFraction float64, rng *rand.Rand) (train, val []models.TextExample, stratified bool) {
	minForStratify := int(math.Ceil(1 / valFraction))

	byLabel := make(map[string][]models.TextExample)
	for _, ex := range examples {
		byLabel[ex.Label] = append(byLabel[ex.Label], ex)
	}

	// Iterate labels in sorted order so a seeded rng gives a reproducible
	// split.
	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	stratified = true
	for _, group := range byLabel {
		if len(group) < minForStratify {
			stratified = false
			break
		}
	}

	if !stratified {
		shuffled := make([]models.TextExample, len(examples))
		copy(shuffled, examples)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		nVal := clamp(int(math.Round(valFraction*float64(len(shuffled)))), 1, len(shuffled)-1)
		return shuffled[nVal:], shuffled[:nVal], false
	}

	for _, label := range labels {
		group := byLabel[label]
		shuffled := make([]models.TextExample, len(group))
		copy(shuffled, group)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		nVal := clamp(int(math.Round(valFraction*float64(len(shuffled)))), 1, len(shuffled)-1)
		val = append(val, shuffled[:nVal]...)
		train = append(train, shuffled[nVal:]...)
	}
	return train, val, true
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
