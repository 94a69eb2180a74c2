// Package predict turns a glove reading into a gesture label.
package predict

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"gestureecho/gesture"
	"gestureecho/ml"
)

const (
	// ModelNotLoaded is returned in place of a label while no classifier is loaded.
	ModelNotLoaded = "model_not_loaded"
	// Error is returned in place of a label when the reading cannot be classified.
	Error = "error"
)

// Config points the service at the model and encoder artifacts.
// CacheSize 0 disables the prediction cache.
type Config struct {
	ModelType   string
	ModelPath   string
	EncoderPath string
	CacheSize   int
}

type cacheKey [5]float64

// Service holds the loaded classifier. The model and encoder are always
// replaced together.
type Service struct {
	config Config
	logger *zap.Logger

	mu       sync.RWMutex
	model    ml.MLModel
	encoder  *ml.LabelEncoder
	loadedAt time.Time

	cache *lru.Cache[cacheKey, string]
}

// NewService returns a service with no model loaded.
func NewService(config Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ModelType == "" {
		config.ModelType = ml.ModelRandomForest
	}
	if config.CacheSize < 0 {
		return nil, fmt.Errorf("invalid prediction cache size %d", config.CacheSize)
	}
	return &Service{config: config, logger: logger}, nil
}

// Load reads the model and encoder artifacts. Missing artifacts are not an
// error: the service keeps answering ModelNotLoaded until training has run.
func (s *Service) Load() error {
	model, err := ml.LoadModel(s.config.ModelType, s.config.ModelPath)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("model not found, train the model first", zap.String("path", s.config.ModelPath))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	encoder, err := ml.LoadLabelEncoder(s.config.EncoderPath)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("label encoder not found, train the model first", zap.String("path", s.config.EncoderPath))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load label encoder: %w", err)
	}
	s.Swap(model, encoder)
	s.logger.Info("model loaded", zap.String("path", s.config.ModelPath), zap.Strings("classes", encoder.Classes))
	return nil
}

// Swap installs a new model and encoder. Cached predictions belong to the
// model that produced them, so each swap starts a fresh cache.
func (s *Service) Swap(model ml.MLModel, encoder *ml.LabelEncoder) {
	var cache *lru.Cache[cacheKey, string]
	if s.config.CacheSize > 0 {
		cache, _ = lru.New[cacheKey, string](s.config.CacheSize)
	}
	s.mu.Lock()
	s.model = model
	s.encoder = encoder
	s.cache = cache
	s.loadedAt = time.Now()
	s.mu.Unlock()
}

func (s *Service) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model != nil && s.encoder != nil
}

// Stale reports whether the artifact on disk was written after the
// in-memory model was loaded.
func (s *Service) Stale() bool {
	info, err := os.Stat(s.config.ModelPath)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return info.ModTime().After(s.loadedAt)
}

// Predict classifies a decoded JSON object. It never fails: a missing model
// yields ModelNotLoaded and a bad reading or inference error yields Error.
func (s *Service) Predict(data map[string]any) string {
	s.mu.RLock()
	model, encoder, cache := s.model, s.encoder, s.cache
	s.mu.RUnlock()
	if model == nil || encoder == nil {
		return ModelNotLoaded
	}

	reading, err := gesture.ReadingFromMap(data)
	if err != nil {
		s.logger.Warn("prediction error", zap.Error(err))
		return Error
	}
	label, err := classify(model, encoder, cache, reading)
	if err != nil {
		s.logger.Warn("prediction error", zap.Error(err))
		return Error
	}
	return label
}

// PredictReading classifies an already parsed reading.
func (s *Service) PredictReading(reading gesture.Reading) (string, error) {
	s.mu.RLock()
	model, encoder, cache := s.model, s.encoder, s.cache
	s.mu.RUnlock()
	if model == nil || encoder == nil {
		return ModelNotLoaded, nil
	}
	return classify(model, encoder, cache, reading)
}

func classify(model ml.MLModel, encoder *ml.LabelEncoder, cache *lru.Cache[cacheKey, string], reading gesture.Reading) (string, error) {
	vector := reading.Vector()
	var key cacheKey
	copy(key[:], vector)
	if cache != nil {
		if label, ok := cache.Get(key); ok {
			return label, nil
		}
	}

	code, _, err := model.Predict(vector)
	if err != nil {
		return "", err
	}
	label, err := encoder.Inverse(code)
	if err != nil {
		return "", err
	}
	if cache != nil {
		cache.Add(key, label)
	}
	return label, nil
}
