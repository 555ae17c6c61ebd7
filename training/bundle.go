package training

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

// Bundle is the serialized unit the artifact store holds: the fitted
// feature extractor and classifier, the labels the model can predict, and
// the training timestamp.
type Bundle struct {
	Vectorizer *Vectorizer
	Classifier *Classifier
	Labels     []string
	TrainedAt  time.Time
}

// Encode serializes the bundle with gob.
func (b *Bundle) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBundle deserializes a bundle. Any decode failure means the stored
// artifact is corrupt.
func DecodeBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if b.Vectorizer == nil || b.Classifier == nil || len(b.Labels) == 0 {
		return nil, fmt.Errorf("decode bundle: incomplete bundle")
	}
	return &b, nil
}
