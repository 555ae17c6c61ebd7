package training

import (
	"math"
	"sort"
	"strings"
)

// Vectorizer is a sparse TF-IDF bag-of-n-grams feature extractor. It is
// fitted on the training partition only; the fitted vocabulary and IDF
// weights are then applied unchanged to validation and prediction inputs.
type Vectorizer struct {
	NGramMin    int
	NGramMax    int
	MaxFeatures int
	MaxDocFreq  float64 // fraction of documents above which a term is dropped

	Vocabulary map[string]int
	Terms      []string // feature index -> term, for explainability
	IDF        []float64
}

// NewVectorizer creates an unfitted vectorizer over unigrams..trigrams with
// a frequency-bounded vocabulary of at most maxFeatures terms.
func NewVectorizer(maxFeatures int) *Vectorizer {
	return &Vectorizer{
		NGramMin:    1,
		NGramMax:    3,
		MaxFeatures: maxFeatures,
		MaxDocFreq:  0.95,
	}
}

// Fit builds the vocabulary and IDF weights from tokenized documents.
func (v *Vectorizer) Fit(docs [][]string) {
	n := len(docs)
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{})
		for _, term := range v.ngrams(doc) {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}

	maxDF := int(math.Floor(v.MaxDocFreq * float64(n)))
	if maxDF < 1 {
		maxDF = 1
	}

	type termFreq struct {
		term string
		df   int
	}
	candidates := make([]termFreq, 0, len(df))
	for term, count := range df {
		if count > maxDF {
			continue
		}
		candidates = append(candidates, termFreq{term: term, df: count})
	}

	// Keep the most frequent terms; ties break alphabetically so the fitted
	// vocabulary is deterministic.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].df != candidates[j].df {
			return candidates[i].df > candidates[j].df
		}
		return candidates[i].term < candidates[j].term
	})
	if v.MaxFeatures > 0 && len(candidates) > v.MaxFeatures {
		candidates = candidates[:v.MaxFeatures]
	}

	v.Vocabulary = make(map[string]int, len(candidates))
	v.Terms = make([]string, len(candidates))
	v.IDF = make([]float64, len(candidates))
	for i, c := range candidates {
		v.Vocabulary[c.term] = i
		v.Terms[i] = c.term
		v.IDF[i] = math.Log(float64(1+n)/float64(1+c.df)) + 1
	}
}

// Transform maps a tokenized document onto the fitted vocabulary as an
// L2-normalized sparse TF-IDF vector.
func (v *Vectorizer) Transform(doc []string) map[int]float64 {
	vec := make(map[int]float64)
	for _, term := range v.ngrams(doc) {
		if idx, ok := v.Vocabulary[term]; ok {
			vec[idx]++
		}
	}

	var norm float64
	for idx := range vec {
		vec[idx] *= v.IDF[idx]
		norm += vec[idx] * vec[idx]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for idx := range vec {
			vec[idx] /= norm
		}
	}
	return vec
}

// NumFeatures returns the fitted vocabulary size.
func (v *Vectorizer) NumFeatures() int {
	return len(v.Terms)
}

func (v *Vectorizer) ngrams(tokens []string) []string {
	out := make([]string, 0, len(tokens)*(v.NGramMax-v.NGramMin+1))
	for size := v.NGramMin; size <= v.NGramMax; size++ {
		for i := 0; i+size <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+size], " "))
		}
	}
	return out
}
