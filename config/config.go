// Package config loads the YAML settings shared by the server and the
// offline trainer.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	qhttp "gestureecho/http"
	"gestureecho/logging"
	"gestureecho/ml"
	"gestureecho/pipeline"
	"gestureecho/predict"
	"gestureecho/speech"
)

// Config is the full server and trainer configuration.
type Config struct {
	HTTP  qhttp.ServerConfig `yaml:"http"`
	Paths struct {
		Data       string `yaml:"data"`
		GestureMap string `yaml:"gesture_map"`
		Model      string `yaml:"model"`
		Encoder    string `yaml:"encoder"`
	} `yaml:"paths"`
	ML struct {
		ModelType   string          `yaml:"model_type"`
		Forest      ml.ForestConfig `yaml:"forest"`
		TestRatio   float64         `yaml:"test_ratio"`
		MinSamples  int             `yaml:"min_samples"`
		MinGestures int             `yaml:"min_gestures"`
		HotSwap     bool            `yaml:"hot_swap"`
		CacheSize   int             `yaml:"cache_size"`
	} `yaml:"ml"`
	Speech   speech.Config  `yaml:"speech"`
	Log      logging.Config `yaml:"log"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Watch struct {
		Enabled  bool          `yaml:"enabled"`
		Debounce time.Duration `yaml:"debounce"`
	} `yaml:"watch"`
}

// Default returns the settings used when no config file is present.
func Default() Config {
	var c Config
	c.HTTP = qhttp.DefaultServerConfig()
	c.Paths.Data = "gesture_data.csv"
	c.Paths.GestureMap = "gesture_map.json"
	c.Paths.Model = "gesture_model.json"
	c.Paths.Encoder = "label_encoder.json"

	training := pipeline.DefaultTrainingConfig()
	c.ML.ModelType = training.ModelType
	c.ML.Forest = training.Forest
	c.ML.TestRatio = training.TestRatio
	c.ML.MinSamples = training.MinSamples
	c.ML.MinGestures = training.MinGestures
	c.ML.HotSwap = true
	c.ML.CacheSize = 1024

	c.Speech = speech.DefaultConfig()
	c.Log = logging.DefaultConfig()
	c.Database.Path = "gestureecho.db"
	c.Watch.Enabled = true
	c.Watch.Debounce = 200 * time.Millisecond
	return c
}

// Load reads path on top of Default. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	if c.ML.Forest.NEstimators <= 0 {
		return fmt.Errorf("ml.forest.n_estimators must be positive, got %d", c.ML.Forest.NEstimators)
	}
	if c.ML.TestRatio <= 0 || c.ML.TestRatio >= 1 {
		return fmt.Errorf("ml.test_ratio must be in (0, 1), got %v", c.ML.TestRatio)
	}
	if c.ML.CacheSize < 0 {
		return fmt.Errorf("ml.cache_size must not be negative, got %d", c.ML.CacheSize)
	}
	switch c.ML.ModelType {
	case ml.ModelRandomForest, ml.ModelDecisionTree:
	default:
		return fmt.Errorf("ml.model_type %q is not supported", c.ML.ModelType)
	}
	return nil
}

// Training maps the config onto the training pipeline settings.
func (c Config) Training() pipeline.TrainingConfig {
	return pipeline.TrainingConfig{
		ModelType:   c.ML.ModelType,
		ModelPath:   c.Paths.Model,
		EncoderPath: c.Paths.Encoder,
		Forest:      c.ML.Forest,
		TestRatio:   c.ML.TestRatio,
		MinSamples:  c.ML.MinSamples,
		MinGestures: c.ML.MinGestures,
	}
}

func (c Config) Predict() predict.Config {
	return predict.Config{
		ModelType:   c.ML.ModelType,
		ModelPath:   c.Paths.Model,
		EncoderPath: c.Paths.Encoder,
		CacheSize:   c.ML.CacheSize,
	}
}
