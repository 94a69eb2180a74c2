// Package pipeline turns collected glove samples into classifier artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gestureecho/db"
	"gestureecho/gesture"
	"gestureecho/ml"
	"gestureecho/storage"
)

type TrainingConfig struct {
	ModelType   string
	ModelPath   string
	EncoderPath string
	Forest      ml.ForestConfig
	TestRatio   float64
	MinSamples  int
	MinGestures int
}

func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		ModelType:   ml.ModelRandomForest,
		ModelPath:   "gesture_model.json",
		EncoderPath: "label_encoder.json",
		Forest:      ml.DefaultForestConfig(),
		TestRatio:   0.2,
		MinSamples:  10,
		MinGestures: 2,
	}
}

// SampleSource yields the raw sample table.
type SampleSource interface {
	Load() (*storage.Table, error)
}

// Recorder keeps a history of training runs.
type Recorder interface {
	SaveTrainingLog(ctx context.Context, entry db.TrainingLog) error
}

// Result describes a successful training run. Model and Encoder are the
// artifacts that were written.
type Result struct {
	Accuracy           float64            `json:"accuracy"`
	Samples            int                `json:"samples"`
	TrainSize          int                `json:"train_size"`
	TestSize           int                `json:"test_size"`
	Stratified         bool               `json:"stratified"`
	Classes            []string           `json:"classes"`
	Distribution       map[string]int     `json:"distribution"`
	Report             []ml.ClassMetrics  `json:"report"`
	FeatureImportances map[string]float64 `json:"feature_importances,omitempty"`
	TrainedAt          time.Time          `json:"trained_at"`

	Model   ml.MLModel        `json:"-"`
	Encoder *ml.LabelEncoder `json:"-"`
}

// Trainer validates the collected samples, fits a model and persists it.
type Trainer struct {
	config   TrainingConfig
	source   SampleSource
	rules    []ValidationRule
	recorder Recorder
	logger   *zap.Logger
}

func NewTrainer(config TrainingConfig, source SampleSource, recorder Recorder, logger *zap.Logger) *Trainer {
	defaults := DefaultTrainingConfig()
	if config.MinSamples <= 0 {
		config.MinSamples = defaults.MinSamples
	}
	if config.MinGestures <= 0 {
		config.MinGestures = defaults.MinGestures
	}
	if config.TestRatio <= 0 || config.TestRatio >= 1 {
		config.TestRatio = defaults.TestRatio
	}
	if config.ModelType == "" {
		config.ModelType = defaults.ModelType
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		config:   config,
		source:   source,
		rules:    DefaultRules(config.MinSamples, config.MinGestures),
		recorder: recorder,
		logger:   logger,
	}
}

// Run validates the samples, fits a model and persists the model and label
// encoder, replacing earlier artifacts. Any precondition failure is returned
// as *PreconditionError and leaves existing artifacts untouched.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	table, err := t.source.Load()
	if errors.Is(err, storage.ErrNoData) {
		return nil, reject("data_file", "No training data found. Please collect data first.")
	}
	if err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}

	for _, rule := range t.rules {
		if err := rule.Check(table); err != nil {
			t.logger.Info("training rejected", zap.String("rule", rule.Name()), zap.Error(err))
			return nil, err
		}
	}
	dataset, err := toDataset(table)
	if err != nil {
		return nil, err
	}

	result, err := t.fit(ctx, dataset)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := result.Model.Save(t.config.ModelPath); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}
	if err := result.Encoder.Save(t.config.EncoderPath); err != nil {
		return nil, fmt.Errorf("save label encoder: %w", err)
	}
	t.logger.Info("model saved",
		zap.String("model_path", t.config.ModelPath),
		zap.String("encoder_path", t.config.EncoderPath),
		zap.Float64("accuracy", result.Accuracy),
		zap.Int("samples", result.Samples),
	)

	if t.recorder != nil {
		entry := db.TrainingLog{
			ModelName:  t.config.ModelType,
			Accuracy:   result.Accuracy,
			TrainedAt:  result.TrainedAt,
			DataPoints: result.Samples,
			Classes:    len(result.Classes),
		}
		if err := t.recorder.SaveTrainingLog(ctx, entry); err != nil {
			t.logger.Warn("failed to record training run", zap.Error(err))
		}
	}
	return result, nil
}

func (t *Trainer) fit(ctx context.Context, dataset *Dataset) (*Result, error) {
	encoder := &ml.LabelEncoder{}
	codes := encoder.FitTransform(dataset.Labels)

	distribution := make(map[string]int, encoder.Len())
	for _, label := range dataset.Labels {
		distribution[label]++
	}
	t.logger.Info("training started",
		zap.Int("samples", len(codes)),
		zap.Any("distribution", distribution),
	)

	stratified := true
	trainIdx, testIdx, err := ml.StratifiedSplit(codes, t.config.TestRatio, t.config.Forest.Seed)
	if err != nil {
		t.logger.Warn("stratification failed, using a plain shuffled split", zap.Error(err))
		stratified = false
		trainIdx, testIdx = ml.RandomSplit(len(codes), t.config.TestRatio, t.config.Forest.Seed)
	}
	trainX, trainY := ml.Select(dataset.Features, codes, trainIdx)
	testX, testY := ml.Select(dataset.Features, codes, testIdx)

	model, err := ml.NewModel(t.config.ModelType, t.config.Forest)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := model.TrainClasses(trainX, trainY, encoder.Len()); err != nil {
		return nil, fmt.Errorf("train model: %w", err)
	}

	evalX, evalY := testX, testY
	if len(evalX) == 0 {
		evalX, evalY = trainX, trainY
	}
	predicted := make([]int, len(evalX))
	for i, row := range evalX {
		label, _, err := model.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("evaluate model: %w", err)
		}
		predicted[i] = label
	}

	result := &Result{
		Accuracy:     ml.Accuracy(evalY, predicted),
		Samples:      len(codes),
		TrainSize:    len(trainX),
		TestSize:     len(testX),
		Stratified:   stratified,
		Classes:      append([]string(nil), encoder.Classes...),
		Distribution: distribution,
		Report:       ml.ClassificationReport(evalY, predicted, encoder.Classes),
		TrainedAt:    time.Now(),
		Model:        model,
		Encoder:      encoder,
	}
	if forest, ok := model.(*ml.RandomForest); ok {
		result.FeatureImportances = make(map[string]float64, len(gesture.FeatureNames))
		for i, v := range forest.FeatureImportances() {
			result.FeatureImportances[gesture.FeatureNames[i]] = v
		}
	}
	t.logger.Info("training finished",
		zap.Float64("accuracy", result.Accuracy),
		zap.Int("train_size", result.TrainSize),
		zap.Int("test_size", result.TestSize),
		zap.Bool("stratified", stratified),
	)
	return result, nil
}
