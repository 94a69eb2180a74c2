package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
)

var (
	ErrNotTrained   = errors.New("model not trained")
	ErrEmptyDataset = errors.New("features or labels empty")
)

// TreeConfig bounds tree growth. Zero values fall back to depth 10,
// min split 2 and min leaf 1.
type TreeConfig struct {
	MaxDepth        int `json:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	// MaxFeatures is the number of features tried per split; 0 means all.
	MaxFeatures int   `json:"max_features" yaml:"max_features"`
	Seed        int64 `json:"seed" yaml:"seed"`
}

func (c TreeConfig) withDefaults() TreeConfig {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 10
	}
	if c.MinSamplesSplit < 2 {
		c.MinSamplesSplit = 2
	}
	if c.MinSamplesLeaf < 1 {
		c.MinSamplesLeaf = 1
	}
	return c
}

// DecisionTree is a CART classifier using gini impurity.
type DecisionTree struct {
	config      TreeConfig
	nClasses    int
	nodes       []TreeNode
	importances []float64
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	ClassLabel int     `json:"class_label"`
	IsLeaf     bool    `json:"is_leaf"`
	// Distribution holds the class proportions of the training samples that
	// reached a leaf.
	Distribution []float64 `json:"distribution,omitempty"`
}

type treeFile struct {
	Config      TreeConfig `json:"config"`
	NClasses    int        `json:"n_classes"`
	Nodes       []TreeNode `json:"nodes"`
	Importances []float64  `json:"importances"`
}

func NewDecisionTree(config TreeConfig) *DecisionTree {
	return &DecisionTree{config: config.withDefaults()}
}

// Train fits the tree on all rows.
func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	return dt.TrainClasses(features, labels, countClasses(labels))
}

// TrainClasses fits the tree with a fixed class count, so classes missing
// from a bootstrap sample still get a slot in the leaf distributions.
func (dt *DecisionTree) TrainClasses(features [][]float64, labels []int, nClasses int) error {
	indices := make([]int, len(features))
	for i := range indices {
		indices[i] = i
	}
	if n := countClasses(labels); n > nClasses {
		nClasses = n
	}
	return dt.fit(features, labels, indices, nClasses)
}

func (dt *DecisionTree) fit(features [][]float64, labels []int, indices []int, nClasses int) error {
	if len(features) == 0 || len(labels) == 0 || len(indices) == 0 {
		return ErrEmptyDataset
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	dt.config = dt.config.withDefaults()
	dt.nClasses = nClasses
	b := &treeBuilder{
		config:      dt.config,
		features:    features,
		labels:      labels,
		nClasses:    nClasses,
		nFeatures:   len(features[0]),
		total:       float64(len(indices)),
		rnd:         rand.New(rand.NewSource(dt.config.Seed)),
		importances: make([]float64, len(features[0])),
	}
	dt.nodes = b.buildNode(indices, 0)
	dt.importances = b.importances
	return nil
}

// Predict returns the majority class of the reached leaf and its share.
func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	dist, err := dt.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(dist)
	return label, dist[label], nil
}

// PredictProba returns the class distribution of the leaf features fall into.
func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrNotTrained
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.Distribution, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

func (dt *DecisionTree) NodeCount() int {
	return len(dt.nodes)
}

func (dt *DecisionTree) Save(path string) error {
	payload, err := dt.MarshalJSON()
	if err != nil {
		return err
	}
	return writeFileAtomic(path, payload)
}

func (dt *DecisionTree) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return dt.UnmarshalJSON(payload)
}

func (dt *DecisionTree) MarshalJSON() ([]byte, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrNotTrained
	}
	return json.Marshal(treeFile{
		Config:      dt.config,
		NClasses:    dt.nClasses,
		Nodes:       dt.nodes,
		Importances: dt.importances,
	})
}

func (dt *DecisionTree) UnmarshalJSON(payload []byte) error {
	var file treeFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return err
	}
	if len(file.Nodes) == 0 {
		return ErrNotTrained
	}
	for i, node := range file.Nodes {
		if node.IsLeaf && len(node.Distribution) != file.NClasses {
			return fmt.Errorf("leaf %d has %d class weights, want %d", i, len(node.Distribution), file.NClasses)
		}
	}
	dt.config = file.Config
	dt.nClasses = file.NClasses
	dt.nodes = file.Nodes
	dt.importances = file.Importances
	return nil
}

type treeBuilder struct {
	config      TreeConfig
	features    [][]float64
	labels      []int
	nClasses    int
	nFeatures   int
	total       float64
	rnd         *rand.Rand
	importances []float64
}

func (b *treeBuilder) leaf(counts []int, n int) []TreeNode {
	dist := make([]float64, b.nClasses)
	for c, count := range counts {
		dist[c] = float64(count) / float64(n)
	}
	return []TreeNode{{
		FeatureIdx:   -1,
		Threshold:    0,
		LeftChild:    -1,
		RightChild:   -1,
		ClassLabel:   argmaxInt(counts),
		IsLeaf:       true,
		Distribution: dist,
	}}
}

func (b *treeBuilder) buildNode(indices []int, depth int) []TreeNode {
	counts := b.classCounts(indices)
	n := len(indices)
	impurity := gini(counts, n)
	if depth >= b.config.MaxDepth || n < b.config.MinSamplesSplit || n < 2*b.config.MinSamplesLeaf || impurity == 0 {
		return b.leaf(counts, n)
	}

	split, ok := b.findBestSplit(indices)
	if !ok {
		return b.leaf(counts, n)
	}

	leftIdx, rightIdx := b.splitIndices(indices, split.feature, split.threshold)
	if len(leftIdx) == 0 || len(rightIdx) == 0 {
		return b.leaf(counts, n)
	}
	b.importances[split.feature] += float64(n) / b.total * (impurity - split.impurity)

	leftNodes := b.buildNode(leftIdx, depth+1)
	rightNodes := b.buildNode(rightIdx, depth+1)

	root := TreeNode{
		FeatureIdx: split.feature,
		Threshold:  split.threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		ClassLabel: argmaxInt(counts),
		IsLeaf:     false,
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = appendShifted(nodes, leftNodes, 1)
	nodes = appendShifted(nodes, rightNodes, 1+len(leftNodes))
	return nodes
}

// appendShifted appends a subtree whose child offsets are relative to its own
// root, rebasing them to the subtree's final position.
func appendShifted(nodes, subtree []TreeNode, offset int) []TreeNode {
	for _, node := range subtree {
		if !node.IsLeaf {
			node.LeftChild += offset
			node.RightChild += offset
		}
		nodes = append(nodes, node)
	}
	return nodes
}

type candidateSplit struct {
	feature   int
	threshold float64
	impurity  float64
}

// findBestSplit visits features in random order. At least MaxFeatures
// features are evaluated, and the search continues past that only while no
// valid split has been found.
func (b *treeBuilder) findBestSplit(indices []int) (candidateSplit, bool) {
	maxFeatures := b.config.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > b.nFeatures {
		maxFeatures = b.nFeatures
	}

	best := candidateSplit{feature: -1}
	found := false
	for visited, featureIdx := range b.rnd.Perm(b.nFeatures) {
		if visited >= maxFeatures && found {
			break
		}
		split, ok := b.bestThreshold(indices, featureIdx)
		if !ok {
			continue
		}
		if !found || split.impurity < best.impurity {
			best = split
			found = true
		}
	}
	return best, found
}

func (b *treeBuilder) bestThreshold(indices []int, featureIdx int) (candidateSplit, bool) {
	sorted := append([]int(nil), indices...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return b.features[sorted[i]][featureIdx] < b.features[sorted[j]][featureIdx]
	})

	n := len(sorted)
	minLeaf := b.config.MinSamplesLeaf
	leftCounts := make([]int, b.nClasses)
	rightCounts := b.classCounts(sorted)

	best := candidateSplit{feature: featureIdx}
	found := false
	for i := 0; i < n-1; i++ {
		label := b.labels[sorted[i]]
		leftCounts[label]++
		rightCounts[label]--

		current := b.features[sorted[i]][featureIdx]
		next := b.features[sorted[i+1]][featureIdx]
		if current == next {
			continue
		}
		leftN := i + 1
		rightN := n - leftN
		if leftN < minLeaf || rightN < minLeaf {
			continue
		}
		impurity := (float64(leftN)*gini(leftCounts, leftN) + float64(rightN)*gini(rightCounts, rightN)) / float64(n)
		if !found || impurity < best.impurity {
			best.impurity = impurity
			best.threshold = current + (next-current)/2
			found = true
		}
	}
	return best, found
}

func (b *treeBuilder) splitIndices(indices []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, idx := range indices {
		if b.features[idx][featureIdx] <= threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	return left, right
}

func (b *treeBuilder) classCounts(indices []int) []int {
	counts := make([]int, b.nClasses)
	for _, idx := range indices {
		counts[b.labels[idx]]++
	}
	return counts
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(n)
		impurity -= prob * prob
	}
	return impurity
}

func countClasses(labels []int) int {
	maxLabel := -1
	for _, label := range labels {
		if label > maxLabel {
			maxLabel = label
		}
	}
	return maxLabel + 1
}

// argmax returns the first index holding the largest value, so ties resolve
// to the lowest class code.
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func argmaxInt(values []int) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
