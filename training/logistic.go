package training

import "math"

// Classifier is a multinomial logistic regression model over sparse TF-IDF
// vectors, trained by full-batch gradient descent with L2 regularization and
// inverse-frequency class weighting.
type Classifier struct {
	Labels  []string
	Weights [][]float64 // [class][feature]
	Bias    []float64
}

type fitParams struct {
	epochs       int
	learningRate float64
	l2           float64
}

// balancedClassWeights computes n / (k * count) per class so minority
// classes pull on the gradient as hard as majority ones.
func balancedClassWeights(y []int, numClasses int) []float64 {
	counts := make([]int, numClasses)
	for _, cls := range y {
		counts[cls]++
	}
	weights := make([]float64, numClasses)
	for c, count := range counts {
		if count > 0 {
			weights[c] = float64(len(y)) / (float64(numClasses) * float64(count))
		}
	}
	return weights
}

// fitClassifier trains a classifier on sparse vectors x with class indices
// y. The progress callback, if non-nil, is invoked periodically with the
// completed fraction; a non-nil return aborts training with that error.
func fitClassifier(x []map[int]float64, y []int, labels []string, numFeatures int, p fitParams, progress func(fraction float64) error) (*Classifier, error) {
	numClasses := len(labels)
	c := &Classifier{
		Labels:  labels,
		Weights: make([][]float64, numClasses),
		Bias:    make([]float64, numClasses),
	}
	for cls := range c.Weights {
		c.Weights[cls] = make([]float64, numFeatures)
	}

	classWeights := balancedClassWeights(y, numClasses)
	n := float64(len(x))
	reportEvery := p.epochs / 10
	if reportEvery < 1 {
		reportEvery = 1
	}

	gradW := make([][]float64, numClasses)
	gradB := make([]float64, numClasses)
	for cls := range gradW {
		gradW[cls] = make([]float64, numFeatures)
	}

	for epoch := 0; epoch < p.epochs; epoch++ {
		for cls := range gradW {
			gradB[cls] = 0
			for f := range gradW[cls] {
				gradW[cls][f] = 0
			}
		}

		for i, vec := range x {
			probs := c.Probabilities(vec)
			w := classWeights[y[i]]
			for cls := 0; cls < numClasses; cls++ {
				coef := probs[cls]
				if cls == y[i] {
					coef -= 1
				}
				coef *= w
				gradB[cls] += coef
				for f, val := range vec {
					gradW[cls][f] += coef * val
				}
			}
		}

		for cls := 0; cls < numClasses; cls++ {
			c.Bias[cls] -= p.learningRate * gradB[cls] / n
			for f := range c.Weights[cls] {
				step := gradW[cls][f]/n + p.l2*c.Weights[cls][f]
				c.Weights[cls][f] -= p.learningRate * step
			}
		}

		if progress != nil && (epoch+1)%reportEvery == 0 {
			if err := progress(float64(epoch+1) / float64(p.epochs)); err != nil {
				return nil, err
			}
		}
	}

	return c, nil
}

// Probabilities returns the softmax class distribution for a sparse vector.
func (c *Classifier) Probabilities(x map[int]float64) []float64 {
	scores := make([]float64, len(c.Labels))
	for cls := range scores {
		s := c.Bias[cls]
		w := c.Weights[cls]
		for f, val := range x {
			s += w[f] * val
		}
		scores[cls] = s
	}

	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}

	var sum float64
	for cls, s := range scores {
		scores[cls] = math.Exp(s - maxScore)
		sum += scores[cls]
	}
	for cls := range scores {
		scores[cls] /= sum
	}
	return scores
}

// Predict returns the arg-max class index for a sparse vector.
func (c *Classifier) Predict(x map[int]float64) int {
	probs := c.Probabilities(x)
	best := 0
	for cls, p := range probs {
		if p > probs[best] {
			best = cls
		}
	}
	return best
}
