package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gestureecho/gesture"
	"gestureecho/storage"
)

// PreconditionError rejects a training run before anything is written. The
// message is meant for the person collecting samples.
type PreconditionError struct {
	Rule    string
	Message string
}

func (e *PreconditionError) Error() string {
	return e.Message
}

func reject(rule, format string, args ...any) error {
	return &PreconditionError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// Dataset is the validated content of the sample file.
type Dataset struct {
	Features [][]float64
	Labels   []string
}

// ValidationRule inspects the raw table. Rules run in order and the first
// failure aborts training.
type ValidationRule interface {
	Name() string
	Check(table *storage.Table) error
}

// DefaultRules returns the training preconditions in evaluation order.
func DefaultRules(minSamples, minGestures int) []ValidationRule {
	return []ValidationRule{
		&SampleCountRule{Min: minSamples},
		&GestureVarietyRule{Min: minGestures},
		&RequiredColumnsRule{Columns: gesture.FeatureNames},
		&MissingValuesRule{},
	}
}

// SampleCountRule requires a minimum number of rows.
type SampleCountRule struct {
	Min int
}

func (r *SampleCountRule) Name() string { return "sample_count" }

func (r *SampleCountRule) Check(table *storage.Table) error {
	if len(table.Rows) < r.Min {
		return reject(r.Name(), "Not enough training data. Need at least %d samples, have %d.", r.Min, len(table.Rows))
	}
	return nil
}

// GestureVarietyRule requires a minimum number of distinct labels.
type GestureVarietyRule struct {
	Min int
}

func (r *GestureVarietyRule) Name() string { return "gesture_variety" }

func (r *GestureVarietyRule) Check(table *storage.Table) error {
	col := table.Column(storage.GestureColumn)
	if col < 0 {
		return reject(r.Name(), "Missing columns in data: [%s]", storage.GestureColumn)
	}
	distinct := make(map[string]struct{})
	for i := range table.Rows {
		if label := table.Cell(i, col); label != "" {
			distinct[label] = struct{}{}
		}
	}
	if len(distinct) < r.Min {
		return reject(r.Name(), "Need at least %d different gesture types for training, have %d.", r.Min, len(distinct))
	}
	return nil
}

type RequiredColumnsRule struct {
	Columns []string
}

func (r *RequiredColumnsRule) Name() string { return "required_columns" }

func (r *RequiredColumnsRule) Check(table *storage.Table) error {
	var missing []string
	for _, name := range r.Columns {
		if table.Column(name) < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return reject(r.Name(), "Missing columns in data: [%s]", strings.Join(missing, ", "))
	}
	return nil
}

type MissingValuesRule struct{}

func (r *MissingValuesRule) Name() string { return "missing_values" }

func (r *MissingValuesRule) Check(table *storage.Table) error {
	_, err := toDataset(table)
	return err
}

// toDataset converts the table into feature vectors in gesture.FeatureNames
// order. Empty, NaN or non-numeric feature cells and empty labels are
// rejected.
func toDataset(table *storage.Table) (*Dataset, error) {
	cols := make([]int, len(gesture.FeatureNames))
	for i, name := range gesture.FeatureNames {
		cols[i] = table.Column(name)
	}
	labelCol := table.Column(storage.GestureColumn)

	ds := &Dataset{
		Features: make([][]float64, len(table.Rows)),
		Labels:   make([]string, len(table.Rows)),
	}
	for row := range table.Rows {
		vector := make([]float64, len(cols))
		for i, col := range cols {
			value, err := strconv.ParseFloat(strings.TrimSpace(table.Cell(row, col)), 64)
			if err != nil || math.IsNaN(value) {
				return nil, reject("missing_values", "Data contains missing values (row %d, column %s)", row+1, gesture.FeatureNames[i])
			}
			vector[i] = value
		}
		label := table.Cell(row, labelCol)
		if label == "" {
			return nil, reject("missing_values", "Data contains missing values (row %d, column %s)", row+1, storage.GestureColumn)
		}
		ds.Features[row] = vector
		ds.Labels[row] = label
	}
	return ds, nil
}
