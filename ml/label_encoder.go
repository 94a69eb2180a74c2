package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// ErrUnknownLabel is returned for labels or codes the encoder was not fitted on.
var ErrUnknownLabel = errors.New("unknown label")

// LabelEncoder maps string labels to dense integer codes in sorted label
// order.
type LabelEncoder struct {
	Classes []string `json:"classes"`
	index   map[string]int
}

// Fit assigns codes to the distinct labels in sorted order.
func (e *LabelEncoder) Fit(labels []string) {
	seen := make(map[string]struct{}, len(labels))
	classes := make([]string, 0)
	for _, label := range labels {
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		classes = append(classes, label)
	}
	sort.Strings(classes)
	e.Classes = classes
	e.buildIndex()
}

func (e *LabelEncoder) FitTransform(labels []string) []int {
	e.Fit(labels)
	codes, _ := e.Transform(labels)
	return codes
}

func (e *LabelEncoder) Transform(labels []string) ([]int, error) {
	if e.index == nil {
		e.buildIndex()
	}
	codes := make([]int, len(labels))
	for i, label := range labels {
		code, ok := e.index[label]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
		}
		codes[i] = code
	}
	return codes, nil
}

func (e *LabelEncoder) Inverse(code int) (string, error) {
	if code < 0 || code >= len(e.Classes) {
		return "", fmt.Errorf("%w: code %d", ErrUnknownLabel, code)
	}
	return e.Classes[code], nil
}

func (e *LabelEncoder) Len() int {
	return len(e.Classes)
}

func (e *LabelEncoder) Save(path string) error {
	if len(e.Classes) == 0 {
		return errors.New("label encoder not fitted")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, payload)
}

// LoadLabelEncoder reads an encoder written by Save.
func LoadLabelEncoder(path string) (*LabelEncoder, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	encoder := &LabelEncoder{}
	if err := json.Unmarshal(payload, encoder); err != nil {
		return nil, fmt.Errorf("decode label encoder: %w", err)
	}
	if len(encoder.Classes) == 0 {
		return nil, errors.New("label encoder has no classes")
	}
	encoder.buildIndex()
	return encoder, nil
}

func (e *LabelEncoder) buildIndex() {
	e.index = make(map[string]int, len(e.Classes))
	for i, class := range e.Classes {
		e.index[class] = i
	}
}
