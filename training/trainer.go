package training

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"textml-orchestrator/core/models"
)

// randomSeed fixes the rng so identical datasets and configs reproduce
// identical splits and models.
const randomSeed = 42

const defaultL2 = 1e-4

// Checkpoint is called between training phases with the current stage name
// and overall progress (0-100). Returning a non-nil error aborts the run;
// the worker uses this for cooperative cancellation.
type Checkpoint func(stage string, progress float64) error

// Trainer turns a labeled dataset into a fitted model bundle plus metrics.
// It is a pure computation: no I/O beyond its inputs and outputs.
type Trainer struct{}

// NewTrainer creates a new trainer
func NewTrainer() *Trainer {
	return &Trainer{}
}

// Train validates the dataset, splits it, fits the vectorizer and
// classifier, and evaluates on the held-out partition. Validation failures
// return a *ValidationError before any training work is done.
func (t *Trainer) Train(cfg models.TrainingConfig, examples []models.TextExample, checkpoint Checkpoint) (*models.TrainingResult, *Bundle, error) {
	cfg.ApplyDefaults()
	if checkpoint == nil {
		checkpoint = func(string, float64) error { return nil }
	}

	if err := ValidateDataset(examples); err != nil {
		return nil, nil, err
	}
	if err := checkpoint("validate", 5); err != nil {
		return nil, nil, err
	}

	labels := uniqueLabels(examples)
	labelIndex := make(map[string]int, len(labels))
	for i, label := range labels {
		labelIndex[label] = i
	}

	rng := rand.New(rand.NewSource(randomSeed))
	trainSet, valSet, _ := splitDataset(examples, cfg.ValidationSplit, rng)
	if err := checkpoint("split", 15); err != nil {
		return nil, nil, err
	}

	trainDocs := tokenizeAll(trainSet)
	valDocs := tokenizeAll(valSet)

	// The vectorizer is fitted on the train partition only; the validation
	// partition is transformed with the same fitted extractor.
	vectorizer := NewVectorizer(cfg.MaxFeatures)
	vectorizer.Fit(trainDocs)

	trainX := transformAll(vectorizer, trainDocs)
	trainY := labelIndices(trainSet, labelIndex)
	valX := transformAll(vectorizer, valDocs)
	valY := labelIndices(valSet, labelIndex)
	if err := checkpoint("vectorize", 30); err != nil {
		return nil, nil, err
	}

	params := fitParams{
		epochs:       cfg.Epochs,
		learningRate: cfg.LearningRate,
		l2:           defaultL2,
	}
	if cfg.GridSearch {
		var err error
		params, err = t.gridSearch(trainSet, labelIndex, cfg, checkpoint)
		if err != nil {
			return nil, nil, err
		}
	}

	cvMean, cvStd, err := t.crossValidate(trainSet, labelIndex, cfg, params)
	if err != nil {
		return nil, nil, err
	}
	if err := checkpoint("cross_validate", 45); err != nil {
		return nil, nil, err
	}

	classifier, err := fitClassifier(trainX, trainY, labels, vectorizer.NumFeatures(), params, func(fraction float64) error {
		return checkpoint("fit", 45+fraction*40)
	})
	if err != nil {
		return nil, nil, err
	}

	result := evaluate(classifier, vectorizer, labels, valX, valY)
	result.CVAccuracy = pct(cvMean)
	result.CVStd = pct(cvStd)
	result.TrainingExamples = len(trainSet)
	result.ValidationExamples = len(valSet)
	if err := checkpoint("evaluate", 95); err != nil {
		return nil, nil, err
	}

	bundle := &Bundle{
		Vectorizer: vectorizer,
		Classifier: classifier,
		Labels:     labels,
		TrainedAt:  time.Now().UTC(),
	}
	return result, bundle, nil
}

// gridSearch scores a small learning-rate x regularization grid by k-fold
// cross-validation on the train partition and returns the best combination.
// It is gated behind TrainingConfig.GridSearch because it multiplies
// training cost by the grid size.
func (t *Trainer) gridSearch(trainSet []models.TextExample, labelIndex map[string]int, cfg models.TrainingConfig, checkpoint Checkpoint) (fitParams, error) {
	learningRates := []float64{0.001, 0.01, 0.1}
	l2s := []float64{1e-3, 1e-4}

	best := fitParams{epochs: cfg.Epochs, learningRate: cfg.LearningRate, l2: defaultL2}
	bestScore := -1.0
	for _, lr := range learningRates {
		for _, l2 := range l2s {
			candidate := fitParams{epochs: cfg.Epochs, learningRate: lr, l2: l2}
			mean, _, err := t.crossValidate(trainSet, labelIndex, cfg, candidate)
			if err != nil {
				return fitParams{}, err
			}
			if mean > bestScore {
				bestScore = mean
				best = candidate
			}
			if err := checkpoint("grid_search", 35); err != nil {
				return fitParams{}, err
			}
		}
	}
	return best, nil
}

// crossValidate runs k-fold cross-validation on the train partition,
// refitting the vectorizer inside each fold so no validation text leaks
// into the vocabulary. Returns mean accuracy and standard deviation as
// fractions.
func (t *Trainer) crossValidate(trainSet []models.TextExample, labelIndex map[string]int, cfg models.TrainingConfig, params fitParams) (mean, std float64, err error) {
	k := 5
	if len(trainSet) < k*2 {
		k = 2
	}

	rng := rand.New(rand.NewSource(randomSeed + 1))
	shuffled := make([]models.TextExample, len(trainSet))
	copy(shuffled, trainSet)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	labels := make([]string, len(labelIndex))
	for label, i := range labelIndex {
		labels[i] = label
	}

	accuracies := make([]float64, 0, k)
	foldSize := len(shuffled) / k
	for fold := 0; fold < k; fold++ {
		start := fold * foldSize
		end := start + foldSize
		if fold == k-1 {
			end = len(shuffled)
		}
		holdout := shuffled[start:end]
		rest := make([]models.TextExample, 0, len(shuffled)-len(holdout))
		rest = append(rest, shuffled[:start]...)
		rest = append(rest, shuffled[end:]...)
		if len(holdout) == 0 || len(rest) == 0 {
			continue
		}

		restDocs := tokenizeAll(rest)
		vectorizer := NewVectorizer(cfg.MaxFeatures)
		vectorizer.Fit(restDocs)

		classifier, fitErr := fitClassifier(
			transformAll(vectorizer, restDocs),
			labelIndices(rest, labelIndex),
			labels,
			vectorizer.NumFeatures(),
			params,
			nil,
		)
		if fitErr != nil {
			return 0, 0, fitErr
		}

		correct := 0
		for _, ex := range holdout {
			x := vectorizer.Transform(Tokenize(ex.Text))
			if classifier.Predict(x) == labelIndex[ex.Label] {
				correct++
			}
		}
		accuracies = append(accuracies, float64(correct)/float64(len(holdout)))
	}

	if len(accuracies) == 0 {
		return 0, 0, nil
	}
	for _, a := range accuracies {
		mean += a
	}
	mean /= float64(len(accuracies))
	for _, a := range accuracies {
		std += (a - mean) * (a - mean)
	}
	std = math.Sqrt(std / float64(len(accuracies)))
	return mean, std, nil
}

// evaluate computes held-out accuracy, per-class precision, the confusion
// matrix and the top-weighted features per class.
func evaluate(c *Classifier, v *Vectorizer, labels []string, valX []map[int]float64, valY []int) *models.TrainingResult {
	confusion := make(map[string]map[string]int, len(labels))
	for _, label := range labels {
		confusion[label] = make(map[string]int)
	}

	correct := 0
	predictedCounts := make([]int, len(labels))
	correctByPredicted := make([]int, len(labels))
	for i, x := range valX {
		pred := c.Predict(x)
		predictedCounts[pred]++
		confusion[labels[valY[i]]][labels[pred]]++
		if pred == valY[i] {
			correct++
			correctByPredicted[pred]++
		}
	}

	accuracy := 0.0
	if len(valX) > 0 {
		accuracy = float64(correct) / float64(len(valX))
	}

	precision := make(map[string]float64, len(labels))
	for i, label := range labels {
		if predictedCounts[i] > 0 {
			precision[label] = pct(float64(correctByPredicted[i]) / float64(predictedCounts[i]))
		} else {
			precision[label] = 0
		}
	}

	return &models.TrainingResult{
		Accuracy:          pct(accuracy),
		Labels:            labels,
		PerClassPrecision: precision,
		ConfusionMatrix:   confusion,
		FeatureImportance: topFeatures(c, v, 15),
		TotalFeatures:     v.NumFeatures(),
	}
}

// topFeatures returns the terms with the largest positive weight per class.
func topFeatures(c *Classifier, v *Vectorizer, n int) map[string][]string {
	out := make(map[string][]string, len(c.Labels))
	for cls, label := range c.Labels {
		weights := c.Weights[cls]
		indices := make([]int, len(weights))
		for i := range indices {
			indices[i] = i
		}
		sort.Slice(indices, func(a, b int) bool {
			return weights[indices[a]] > weights[indices[b]]
		})
		top := n
		if top > len(indices) {
			top = len(indices)
		}
		terms := make([]string, 0, top)
		for _, idx := range indices[:top] {
			terms = append(terms, v.Terms[idx])
		}
		out[label] = terms
	}
	return out
}

func uniqueLabels(examples []models.TextExample) []string {
	seen := make(map[string]struct{})
	var labels []string
	for _, ex := range examples {
		if _, ok := seen[ex.Label]; !ok {
			seen[ex.Label] = struct{}{}
			labels = append(labels, ex.Label)
		}
	}
	sort.Strings(labels)
	return labels
}

func tokenizeAll(examples []models.TextExample) [][]string {
	docs := make([][]string, len(examples))
	for i, ex := range examples {
		docs[i] = Tokenize(ex.Text)
	}
	return docs
}

func transformAll(v *Vectorizer, docs [][]string) []map[int]float64 {
	vectors := make([]map[int]float64, len(docs))
	for i, doc := range docs {
		vectors[i] = v.Transform(doc)
	}
	return vectors
}

func labelIndices(examples []models.TextExample, labelIndex map[string]int) []int {
	y := make([]int, len(examples))
	for i, ex := range examples {
		y[i] = labelIndex[ex.Label]
	}
	return y
}

// pct converts a fraction to a percentage rounded to two decimals.
func pct(fraction float64) float64 {
	return math.Round(fraction*10000) / 100
}
