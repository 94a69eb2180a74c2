package ml

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestLabelEncoderSortedCodes(t *testing.T) {
	encoder := &LabelEncoder{}
	codes := encoder.FitTransform([]string{"peace", "fist", "peace", "open_hand"})
	want := []int{2, 0, 2, 1}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, codes)
		}
	}
	label, err := encoder.Inverse(1)
	if err != nil {
		t.Fatal(err)
	}
	if label != "open_hand" {
		t.Fatalf("expected open_hand, got %s", label)
	}
	if _, err := encoder.Inverse(7); !errors.Is(err, ErrUnknownLabel) {
		t.Fatalf("expected ErrUnknownLabel, got %v", err)
	}
	if _, err := encoder.Transform([]string{"wave"}); !errors.Is(err, ErrUnknownLabel) {
		t.Fatalf("expected ErrUnknownLabel, got %v", err)
	}
}

func TestLabelEncoderSaveLoad(t *testing.T) {
	encoder := &LabelEncoder{}
	encoder.Fit([]string{"b", "a"})
	path := filepath.Join(t.TempDir(), "label_encoder.json")
	if err := encoder.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadLabelEncoder(path)
	if err != nil {
		t.Fatal(err)
	}
	codes, err := loaded.Transform([]string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if codes[0] != 0 || codes[1] != 1 {
		t.Fatalf("unexpected codes %v", codes)
	}
}

func TestClassificationReport(t *testing.T) {
	yTrue := []int{0, 0, 1, 1}
	yPred := []int{0, 1, 1, 1}
	if acc := Accuracy(yTrue, yPred); acc != 0.75 {
		t.Fatalf("expected accuracy 0.75, got %f", acc)
	}
	report := ClassificationReport(yTrue, yPred, []string{"fist", "peace"})
	if report[0].Precision != 1 || report[0].Recall != 0.5 {
		t.Fatalf("unexpected fist metrics %+v", report[0])
	}
	if report[1].Support != 2 || report[1].Recall != 1 {
		t.Fatalf("unexpected peace metrics %+v", report[1])
	}
}
