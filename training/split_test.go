package training

import (
	"math/rand"
	"testing"
)

func TestSplitDatasetStratified(t *testing.T) {
	examples := dataset(map[string]int{"a": 10, "b": 10})
	rng := rand.New(rand.NewSource(1))

	train, val, stratified := splitDataset(examples, 0.2, rng)
	if !stratified {
		t.Fatal("expected stratified split")
	}
	if len(train)+len(val) != len(examples) {
		t.Fatalf("partition sizes %d+%d != %d", len(train), len(val), len(examples))
	}

	// 20% of each 10-example label ends up in validation.
	valCounts := map[string]int{}
	for _, ex := range val {
		valCounts[ex.Label]++
	}
	if valCounts["a"] != 2 || valCounts["b"] != 2 {
		t.Fatalf("validation counts = %v, want 2 per label", valCounts)
	}
}

func TestSplitDatasetFallsBackWhenLabelTooSmall(t *testing.T) {
	// At 0.2 a label needs ceil(1/0.2)=5 examples to stratify; "b" has 3.
	examples := dataset(map[string]int{"a": 12, "b": 3})
	rng := rand.New(rand.NewSource(1))

	train, val, stratified := splitDataset(examples, 0.2, rng)
	if stratified {
		t.Fatal("expected plain random fallback")
	}
	if len(val) != 3 {
		t.Fatalf("len(val) = %d, want 3", len(val))
	}
	if len(train) != 12 {
		t.Fatalf("len(train) = %d, want 12", len(train))
	}
}

func TestSplitDatasetAlwaysLeavesBothSides(t *testing.T) {
	// Even a tiny group keeps at least one example on each side.
	examples := dataset(map[string]int{"a": 5, "b": 5})
	rng := rand.New(rand.NewSource(1))

	train, val, _ := splitDataset(examples, 0.2, rng)
	if len(train) == 0 || len(val) == 0 {
		t.Fatalf("empty partition: train=%d val=%d", len(train), len(val))
	}
}

func TestSplitDatasetReproducible(t *testing.T) {
	examples := dataset(map[string]int{"a": 10, "b": 10, "c": 10})

	train1, val1, _ := splitDataset(examples, 0.2, rand.New(rand.NewSource(42)))
	train2, val2, _ := splitDataset(examples, 0.2, rand.New(rand.NewSource(42)))

	if len(train1) != len(train2) || len(val1) != len(val2) {
		t.Fatal("partition sizes differ across identical seeds")
	}
	for i := range val1 {
		if val1[i] != val2[i] {
			t.Fatalf("validation element %d differs", i)
		}
	}
	for i := range train1 {
		if train1[i] != train2[i] {
			t.Fatalf("train element %d differs", i)
		}
	}
}
