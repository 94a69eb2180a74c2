package ml

import (
	"errors"
)

const (
	ModelRandomForest = "random_forest"
	ModelDecisionTree = "decision_tree"
)

// NewModel returns an untrained model. An empty type means random forest.
func NewModel(modelType string, config ForestConfig) (MLModel, error) {
	switch modelType {
	case ModelRandomForest, "":
		return NewRandomForest(config), nil
	case ModelDecisionTree:
		return NewDecisionTree(config.Tree), nil
	default:
		return nil, errors.New("unsupported model type")
	}
}

func LoadModel(modelType, path string) (MLModel, error) {
	model, err := NewModel(modelType, ForestConfig{})
	if err != nil {
		return nil, err
	}
	if err := model.Load(path); err != nil {
		return nil, err
	}
	return model, nil
}
