package ml

import (
	"path/filepath"
	"testing"
)

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 2, 2}

	model := NewDecisionTree(TreeConfig{MaxDepth: 2})
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	label, confidence, err := model.Predict([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 0 {
		t.Fatalf("expected label 0, got %d", label)
	}
	if confidence != 1 {
		t.Fatalf("expected pure leaf confidence 1, got %f", confidence)
	}
	label, _, err = model.Predict([]float64{0.85, 0.85})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 2 {
		t.Fatalf("expected label 2, got %d", label)
	}
}

func TestDecisionTreeDeepTreeIndices(t *testing.T) {
	// Four interleaved bands on one axis need nested splits on both sides,
	// which exercises child offset rebasing.
	var features [][]float64
	var labels []int
	for i := 0; i < 40; i++ {
		x := float64(i)
		features = append(features, []float64{x})
		labels = append(labels, (i/10)%2)
	}
	model := NewDecisionTree(TreeConfig{MaxDepth: 10})
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, row := range features {
		label, _, err := model.Predict(row)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if label != labels[i] {
			t.Fatalf("row %d: expected %d, got %d", i, labels[i], label)
		}
	}
}

func TestDecisionTreeRespectsMaxDepth(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}}
	labels := []int{0, 1, 0, 1}
	model := NewDecisionTree(TreeConfig{MaxDepth: 1})
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.NodeCount() > 3 {
		t.Fatalf("depth 1 tree should have at most 3 nodes, got %d", model.NodeCount())
	}
}

func TestDecisionTreeSaveLoad(t *testing.T) {
	features := [][]float64{{0, 0}, {0, 1}, {5, 5}, {5, 6}}
	labels := []int{0, 0, 1, 1}
	model := NewDecisionTree(TreeConfig{})
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tree.json")
	if err := model.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadModel(ModelDecisionTree, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	label, _, err := loaded.Predict([]float64{5, 5.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 1 {
		t.Fatalf("expected label 1, got %d", label)
	}
}

func TestDecisionTreeUntrained(t *testing.T) {
	model := NewDecisionTree(TreeConfig{})
	if _, _, err := model.Predict([]float64{1}); err != ErrNotTrained {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
	if err := model.Save(filepath.Join(t.TempDir(), "x.json")); err != ErrNotTrained {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
}
