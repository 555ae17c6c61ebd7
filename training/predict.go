package training

import (
	"sort"

	"textml-orchestrator/core/models"
)

// Predict scores input text against a trained bundle: arg-max label with
// its confidence, plus up to two runner-up labels sorted by descending
// confidence. Confidence values are percentages rounded to two decimals.
func Predict(b *Bundle, text string) (*models.PredictionResult, error) {
	x := b.Vectorizer.Transform(Tokenize(text))
	probs := b.Classifier.Probabilities(x)

	ranked := make([]models.LabelConfidence, len(b.Labels))
	for i, label := range b.Labels {
		ranked[i] = models.LabelConfidence{Label: label, Confidence: pct(probs[i])}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	alternatives := ranked[1:]
	if len(alternatives) > 2 {
		alternatives = alternatives[:2]
	}

	return &models.PredictionResult{
		Label:        ranked[0].Label,
		Confidence:   ranked[0].Confidence,
		Alternatives: alternatives,
	}, nil
}
