package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"runtime"
	"sync"
)

// ForestConfig configures the random forest.
type ForestConfig struct {
	NEstimators int        `json:"n_estimators" yaml:"n_estimators"`
	Tree        TreeConfig `json:"tree" yaml:"tree"`
	Seed        int64      `json:"seed" yaml:"seed"`
	// Workers bounds the number of trees fitted concurrently; 0 uses GOMAXPROCS.
	Workers int `json:"-" yaml:"workers"`
}

// DefaultForestConfig is the glove classifier: 100 trees, depth 10,
// min split 2, min leaf 1, seed 42.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NEstimators: 100,
		Tree: TreeConfig{
			MaxDepth:        10,
			MinSamplesSplit: 2,
			MinSamplesLeaf:  1,
		},
		Seed: 42,
	}
}

// RandomForest is a bagged ensemble of decision trees with soft voting.
type RandomForest struct {
	config    ForestConfig
	nClasses  int
	nFeatures int
	trees     []*DecisionTree
}

type forestFile struct {
	Config    ForestConfig    `json:"config"`
	NClasses  int             `json:"n_classes"`
	NFeatures int             `json:"n_features"`
	Trees     []*DecisionTree `json:"trees"`
}

func NewRandomForest(config ForestConfig) *RandomForest {
	if config.NEstimators <= 0 {
		config.NEstimators = 100
	}
	return &RandomForest{config: config}
}

func (rf *RandomForest) Train(features [][]float64, labels []int) error {
	return rf.TrainClasses(features, labels, countClasses(labels))
}

// TrainClasses fits every tree on a bootstrap sample of the rows. nClasses
// may exceed the largest label present, which happens when a class only
// appears in a held-out split. Bootstrap draws and per-tree seeds all come
// from one generator seeded with config.Seed, so the result does not depend
// on worker scheduling.
func (rf *RandomForest) TrainClasses(features [][]float64, labels []int, nClasses int) error {
	if len(features) == 0 || len(labels) == 0 {
		return ErrEmptyDataset
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	nFeatures := len(features[0])
	for i, row := range features {
		if len(row) != nFeatures {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), nFeatures)
		}
	}

	if n := countClasses(labels); n > nClasses {
		nClasses = n
	}
	rf.nClasses = nClasses
	rf.nFeatures = nFeatures

	treeConfig := rf.config.Tree
	if treeConfig.MaxFeatures <= 0 {
		treeConfig.MaxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
	}

	rnd := rand.New(rand.NewSource(rf.config.Seed))
	samples := make([][]int, rf.config.NEstimators)
	trees := make([]*DecisionTree, rf.config.NEstimators)
	for t := range trees {
		cfg := treeConfig
		cfg.Seed = rnd.Int63()
		trees[t] = NewDecisionTree(cfg)
		bootstrap := make([]int, len(features))
		for i := range bootstrap {
			bootstrap[i] = rnd.Intn(len(features))
		}
		samples[t] = bootstrap
	}

	workers := rf.config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	jobs := make(chan int)
	errs := make([]error, len(trees))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				errs[t] = trees[t].fit(features, labels, samples[t], rf.nClasses)
			}
		}()
	}
	for t := range trees {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	rf.trees = trees
	return nil
}

// Predict averages the leaf class distributions of all trees.
func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	proba, err := rf.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(proba)
	return label, proba[label], nil
}

// PredictProba averages the leaf distributions of every tree.
func (rf *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(rf.trees) == 0 {
		return nil, ErrNotTrained
	}
	if len(features) != rf.nFeatures {
		return nil, fmt.Errorf("expected %d features, got %d", rf.nFeatures, len(features))
	}
	proba := make([]float64, rf.nClasses)
	for _, tree := range rf.trees {
		dist, err := tree.PredictProba(features)
		if err != nil {
			return nil, err
		}
		for c, p := range dist {
			proba[c] += p
		}
	}
	for c := range proba {
		proba[c] /= float64(len(rf.trees))
	}
	return proba, nil
}

// FeatureImportances averages the per-tree impurity decrease, normalising
// each tree and the final vector to sum to one.
func (rf *RandomForest) FeatureImportances() []float64 {
	out := make([]float64, rf.nFeatures)
	if len(rf.trees) == 0 {
		return out
	}
	for _, tree := range rf.trees {
		var total float64
		for _, v := range tree.importances {
			total += v
		}
		if total == 0 {
			continue
		}
		for i, v := range tree.importances {
			out[i] += v / total
		}
	}
	var sum float64
	for _, v := range out {
		sum += v
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

func (rf *RandomForest) NumClasses() int {
	return rf.nClasses
}

func (rf *RandomForest) NumTrees() int {
	return len(rf.trees)
}

func (rf *RandomForest) Save(path string) error {
	if len(rf.trees) == 0 {
		return ErrNotTrained
	}
	payload, err := json.Marshal(forestFile{
		Config:    rf.config,
		NClasses:  rf.nClasses,
		NFeatures: rf.nFeatures,
		Trees:     rf.trees,
	})
	if err != nil {
		return err
	}
	return writeFileAtomic(path, payload)
}

func (rf *RandomForest) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file forestFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return fmt.Errorf("decode forest: %w", err)
	}
	if len(file.Trees) == 0 {
		return ErrNotTrained
	}
	rf.config = file.Config
	rf.nClasses = file.NClasses
	rf.nFeatures = file.NFeatures
	rf.trees = file.Trees
	return nil
}
