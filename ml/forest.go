package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
)

// RandomForest is a bagged ensemble of decision trees with per-split feature
// sampling. Predictions average the trees' leaf distributions.
type RandomForest struct {
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures of 0 selects floor(sqrt(n_features)).
	MaxFeatures int
	Bootstrap   bool
	Seed        int64

	trees       []*DecisionTree
	numFeatures int
}

// NewRandomForest returns a forest with the usual defaults: bootstrapped
// trees grown to purity, sqrt feature sampling.
func NewRandomForest(nEstimators int, seed int64) *RandomForest {
	if nEstimators <= 0 {
		nEstimators = 100
	}
	return &RandomForest{
		NEstimators: nEstimators,
		Bootstrap:   true,
		Seed:        seed,
	}
}

func (rf *RandomForest) Train(features [][]float64, labels []int) error {
	width, err := validateTrainingSet(features, labels)
	if err != nil {
		return err
	}
	if rf.NEstimators <= 0 {
		return errors.New("n_estimators must be positive")
	}

	maxFeatures := rf.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Sqrt(float64(width)))
		if maxFeatures < 1 {
			maxFeatures = 1
		}
	}

	trees := make([]*DecisionTree, rf.NEstimators)
	workers := runtime.GOMAXPROCS(0)
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := range trees {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			rng := rand.New(rand.NewSource(rf.Seed + int64(i)))
			indices := make([]int, len(labels))
			for j := range indices {
				if rf.Bootstrap {
					indices[j] = rng.Intn(len(labels))
				} else {
					indices[j] = j
				}
			}
			tree := &DecisionTree{
				MaxDepth:        rf.MaxDepth,
				MinSamplesSplit: rf.MinSamplesSplit,
				MinSamplesLeaf:  rf.MinSamplesLeaf,
				MaxFeatures:     maxFeatures,
			}
			tree.fit(features, labels, indices, width, rng)
			trees[i] = tree
		}(i)
	}
	wg.Wait()

	rf.trees = trees
	rf.numFeatures = width
	return nil
}

func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	proba, err := rf.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(proba)
	return label, proba[label], nil
}

func (rf *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(rf.trees) == 0 {
		return nil, ErrNotTrained
	}
	if len(features) != rf.numFeatures {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFeatureLength, len(features), rf.numFeatures)
	}
	proba := make([]float64, numClasses)
	for i, tree := range rf.trees {
		leaf, err := tree.leaf(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		for c, p := range leaf.Proba {
			proba[c] += p
		}
	}
	for c := range proba {
		proba[c] /= float64(len(rf.trees))
	}
	return proba, nil
}

// NumFeatures is the vector width the forest was fitted on.
func (rf *RandomForest) NumFeatures() int {
	return rf.numFeatures
}

// Size returns the number of fitted trees.
func (rf *RandomForest) Size() int {
	return len(rf.trees)
}

type forestJSON struct {
	NEstimators     int             `json:"n_estimators"`
	MaxDepth        int             `json:"max_depth"`
	MinSamplesSplit int             `json:"min_samples_split"`
	MinSamplesLeaf  int             `json:"min_samples_leaf"`
	MaxFeatures     int             `json:"max_features"`
	Bootstrap       bool            `json:"bootstrap"`
	Seed            int64           `json:"seed"`
	NumFeatures     int             `json:"num_features"`
	Trees           []*DecisionTree `json:"trees"`
}

func (rf *RandomForest) MarshalJSON() ([]byte, error) {
	if len(rf.trees) == 0 {
		return nil, ErrNotTrained
	}
	return json.Marshal(forestJSON{
		NEstimators:     rf.NEstimators,
		MaxDepth:        rf.MaxDepth,
		MinSamplesSplit: rf.MinSamplesSplit,
		MinSamplesLeaf:  rf.MinSamplesLeaf,
		MaxFeatures:     rf.MaxFeatures,
		Bootstrap:       rf.Bootstrap,
		Seed:            rf.Seed,
		NumFeatures:     rf.numFeatures,
		Trees:           rf.trees,
	})
}

func (rf *RandomForest) UnmarshalJSON(data []byte) error {
	var payload forestJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	if len(payload.Trees) == 0 {
		return ErrNotTrained
	}
	for i, tree := range payload.Trees {
		if tree == nil {
			return fmt.Errorf("tree %d is missing", i)
		}
		if tree.NumFeatures() != payload.NumFeatures {
			return fmt.Errorf("tree %d: fitted on %d features, forest on %d", i, tree.NumFeatures(), payload.NumFeatures)
		}
	}
	rf.NEstimators = payload.NEstimators
	rf.MaxDepth = payload.MaxDepth
	rf.MinSamplesSplit = payload.MinSamplesSplit
	rf.MinSamplesLeaf = payload.MinSamplesLeaf
	rf.MaxFeatures = payload.MaxFeatures
	rf.Bootstrap = payload.Bootstrap
	rf.Seed = payload.Seed
	rf.numFeatures = payload.NumFeatures
	rf.trees = payload.Trees
	return nil
}
