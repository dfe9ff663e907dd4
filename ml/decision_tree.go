package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// DecisionTree is a CART classifier using Gini impurity. Zero values of the
// limits mean: unlimited depth, split any node with two samples, one sample
// per leaf, consider every feature at each split.
type DecisionTree struct {
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int

	nodes       []TreeNode
	numFeatures int
	rng         *rand.Rand
}

// TreeNode is one node of the flattened tree. Proba holds the class
// distribution of the training samples that reached the node.
type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	ClassLabel int       `json:"class_label"`
	IsLeaf     bool      `json:"is_leaf"`
	Proba      []float64 `json:"proba"`
}

func NewDecisionTree(maxDepth int) *DecisionTree {
	return &DecisionTree{MaxDepth: maxDepth}
}

func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	width, err := validateTrainingSet(features, labels)
	if err != nil {
		return err
	}
	indices := make([]int, len(labels))
	for i := range indices {
		indices[i] = i
	}
	dt.fit(features, labels, indices, width, dt.rng)
	return nil
}

// fit grows the tree over the given sample indices, which may repeat.
func (dt *DecisionTree) fit(features [][]float64, labels []int, indices []int, width int, rng *rand.Rand) {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	dt.rng = rng
	dt.numFeatures = width
	dt.nodes = dt.nodes[:0]
	dt.buildNode(features, labels, indices, 0)
}

func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	proba, err := dt.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(proba)
	return label, proba[label], nil
}

func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), leaf.Proba...), nil
}

func (dt *DecisionTree) leaf(features []float64) (*TreeNode, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrNotTrained
	}
	if len(features) != dt.numFeatures {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFeatureLength, len(features), dt.numFeatures)
	}
	idx := 0
	for {
		node := &dt.nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, fmt.Errorf("node %d: feature index %d out of range", idx, node.FeatureIdx)
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(dt.nodes) {
			return nil, fmt.Errorf("invalid tree state at node %d", idx)
		}
	}
}

// NumFeatures is the vector width the tree was fitted on.
func (dt *DecisionTree) NumFeatures() int {
	return dt.numFeatures
}

// Depth returns the length of the longest root-to-leaf path.
func (dt *DecisionTree) Depth() int {
	if len(dt.nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return 0
		}
		l, r := walk(node.LeftChild), walk(node.RightChild)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return walk(0)
}

type treeJSON struct {
	MaxDepth        int        `json:"max_depth"`
	MinSamplesSplit int        `json:"min_samples_split"`
	MinSamplesLeaf  int        `json:"min_samples_leaf"`
	MaxFeatures     int        `json:"max_features"`
	NumFeatures     int        `json:"num_features"`
	Nodes           []TreeNode `json:"nodes"`
}

func (dt *DecisionTree) MarshalJSON() ([]byte, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrNotTrained
	}
	return json.Marshal(treeJSON{
		MaxDepth:        dt.MaxDepth,
		MinSamplesSplit: dt.MinSamplesSplit,
		MinSamplesLeaf:  dt.MinSamplesLeaf,
		MaxFeatures:     dt.MaxFeatures,
		NumFeatures:     dt.numFeatures,
		Nodes:           dt.nodes,
	})
}

func (dt *DecisionTree) UnmarshalJSON(data []byte) error {
	var payload treeJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	if len(payload.Nodes) == 0 {
		return ErrNotTrained
	}
	for i, node := range payload.Nodes {
		if node.IsLeaf {
			if len(node.Proba) != numClasses {
				return fmt.Errorf("leaf %d: expected %d class probabilities, got %d", i, numClasses, len(node.Proba))
			}
			continue
		}
		if node.LeftChild <= i || node.RightChild <= i || node.LeftChild >= len(payload.Nodes) || node.RightChild >= len(payload.Nodes) {
			return fmt.Errorf("node %d: invalid children %d/%d", i, node.LeftChild, node.RightChild)
		}
	}
	dt.MaxDepth = payload.MaxDepth
	dt.MinSamplesSplit = payload.MinSamplesSplit
	dt.MinSamplesLeaf = payload.MinSamplesLeaf
	dt.MaxFeatures = payload.MaxFeatures
	dt.numFeatures = payload.NumFeatures
	dt.nodes = payload.Nodes
	return nil
}

// buildNode appends the subtree for indices and returns the index of its root.
func (dt *DecisionTree) buildNode(features [][]float64, labels []int, indices []int, depth int) int {
	counts := classCounts(labels, indices)
	nodeIdx := len(dt.nodes)
	dt.nodes = append(dt.nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		ClassLabel: argmax(counts),
		IsLeaf:     true,
		Proba:      normalize(counts),
	})

	minSplit := dt.MinSamplesSplit
	if minSplit < 2 {
		minSplit = 2
	}
	if (dt.MaxDepth > 0 && depth >= dt.MaxDepth) || len(indices) < minSplit || isPure(counts) {
		return nodeIdx
	}

	feature, threshold, ok := dt.findBestSplit(features, labels, indices, counts)
	if !ok {
		return nodeIdx
	}

	left, right := splitIndices(features, indices, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return nodeIdx
	}

	leftIdx := dt.buildNode(features, labels, left, depth+1)
	rightIdx := dt.buildNode(features, labels, right, depth+1)

	node := &dt.nodes[nodeIdx]
	node.FeatureIdx = feature
	node.Threshold = threshold
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.IsLeaf = false
	return nodeIdx
}

// findBestSplit scans the sorted values of each candidate feature and
// returns the midpoint threshold with the lowest weighted Gini impurity.
func (dt *DecisionTree) findBestSplit(features [][]float64, labels []int, indices []int, parentCounts []float64) (int, float64, bool) {
	minLeaf := dt.MinSamplesLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}

	candidates, limit := dt.candidateFeatures()
	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.Inf(1)

	sorted := make([]int, len(indices))
	total := float64(len(indices))
	left := make([]float64, numClasses)
	right := make([]float64, numClasses)

	for n, featureIdx := range candidates {
		// Keep looking past the sampled features until one valid split exists.
		if n >= limit && bestFeature != -1 {
			break
		}
		copy(sorted, indices)
		sort.Slice(sorted, func(a, b int) bool {
			return features[sorted[a]][featureIdx] < features[sorted[b]][featureIdx]
		})

		for c := range left {
			left[c] = 0
			right[c] = parentCounts[c]
		}

		for pos := 0; pos < len(sorted)-1; pos++ {
			label := labels[sorted[pos]]
			left[label]++
			right[label]--

			current := features[sorted[pos]][featureIdx]
			next := features[sorted[pos+1]][featureIdx]
			if current == next {
				continue
			}
			nLeft := pos + 1
			nRight := len(sorted) - nLeft
			if nLeft < minLeaf || nRight < minLeaf {
				continue
			}

			impurity := (float64(nLeft)/total)*gini(left) + (float64(nRight)/total)*gini(right)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = featureIdx
				bestThreshold = current + (next-current)/2
				if bestThreshold >= next {
					bestThreshold = current
				}
			}
		}
	}

	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

// candidateFeatures returns the feature visiting order and how many of them
// make up the sampled subset.
func (dt *DecisionTree) candidateFeatures() ([]int, int) {
	k := dt.MaxFeatures
	if k <= 0 || k >= dt.numFeatures {
		all := make([]int, dt.numFeatures)
		for i := range all {
			all[i] = i
		}
		return all, dt.numFeatures
	}
	return dt.rng.Perm(dt.numFeatures), k
}

func splitIndices(features [][]float64, indices []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func classCounts(labels []int, indices []int) []float64 {
	counts := make([]float64, numClasses)
	for _, i := range indices {
		counts[labels[i]]++
	}
	return counts
}

func gini(counts []float64) float64 {
	total := 0.0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := c / total
		impurity -= p * p
	}
	return impurity
}

func normalize(counts []float64) []float64 {
	total := 0.0
	for _, c := range counts {
		total += c
	}
	out := make([]float64, len(counts))
	if total == 0 {
		return out
	}
	for i, c := range counts {
		out[i] = c / total
	}
	return out
}

func isPure(counts []float64) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}
