package gesture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// FeatureNames is the fixed channel order shared by collection, training and prediction.
var FeatureNames = []string{"thumb", "index", "middle", "ring", "pinky"}

const (
	// NoGesture is the live status before the first prediction.
	NoGesture = "none"
	// UnknownLabel is stored when a collected sample carries no label.
	UnknownLabel = "unknown"
)

// ErrMissingChannel is returned when a reading lacks one of the five channels.
var ErrMissingChannel = errors.New("missing sensor channel")

// Reading is one frame of the five flex sensors, one value per finger.
type Reading struct {
	Thumb  float64 `json:"thumb"`
	Index  float64 `json:"index"`
	Middle float64 `json:"middle"`
	Ring   float64 `json:"ring"`
	Pinky  float64 `json:"pinky"`
}

// Vector returns the channels in FeatureNames order.
func (r Reading) Vector() []float64 {
	return []float64{r.Thumb, r.Index, r.Middle, r.Ring, r.Pinky}
}

func ReadingFromVector(v []float64) (Reading, error) {
	if len(v) != len(FeatureNames) {
		return Reading{}, fmt.Errorf("expected %d channels, got %d", len(FeatureNames), len(v))
	}
	return Reading{Thumb: v[0], Index: v[1], Middle: v[2], Ring: v[3], Pinky: v[4]}, nil
}

// ReadingFromMap pulls the five channels out of a decoded JSON object.
// Numbers and numeric strings are accepted.
func ReadingFromMap(m map[string]any) (Reading, error) {
	v := make([]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		raw, ok := m[name]
		if !ok || raw == nil {
			return Reading{}, fmt.Errorf("%w: %s", ErrMissingChannel, name)
		}
		f, err := toFloat(raw)
		if err != nil {
			return Reading{}, fmt.Errorf("channel %s: %w", name, err)
		}
		v[i] = f
	}
	return ReadingFromVector(v)
}

func toFloat(raw any) (float64, error) {
	switch val := raw.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(val), 64)
	case interface{ Float64() (float64, error) }:
		return val.Float64()
	default:
		return 0, fmt.Errorf("unsupported value %v of type %T", raw, raw)
	}
}

// Sample is a labelled reading as stored in the sample file.
type Sample struct {
	Reading
	Gesture   string    `json:"gesture"`
	Timestamp time.Time `json:"timestamp"`
}

// NormalizeLabel trims whitespace and applies Unicode NFC so that visually
// identical labels typed on different devices compare equal.
func NormalizeLabel(label string) string {
	return norm.NFC.String(strings.TrimSpace(label))
}
