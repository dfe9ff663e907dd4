package ml

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// SMOTE oversamples the minority class by interpolating between a minority
// sample and one of its K nearest minority neighbours until both classes
// have the same count.
type SMOTE struct {
	K    int
	Seed int64
}

func NewSMOTE(seed int64) SMOTE {
	return SMOTE{K: 5, Seed: seed}
}

// Resample returns the input followed by the synthetic samples. The inputs
// are not modified.
func (s SMOTE) Resample(features [][]float64, labels []int) ([][]float64, []int, error) {
	if _, err := validateTrainingSet(features, labels); err != nil {
		return nil, nil, err
	}

	counts := make([]int, numClasses)
	for _, label := range labels {
		counts[label]++
	}
	minority, majority := LabelLowRisk, LabelHighRisk
	if counts[LabelHighRisk] < counts[LabelLowRisk] {
		minority, majority = LabelHighRisk, LabelLowRisk
	}
	deficit := counts[majority] - counts[minority]

	outX := make([][]float64, len(features), len(features)+deficit)
	copy(outX, features)
	outY := make([]int, len(labels), len(labels)+deficit)
	copy(outY, labels)
	if deficit == 0 {
		return outX, outY, nil
	}

	var pool [][]float64
	for i, label := range labels {
		if label == minority {
			pool = append(pool, features[i])
		}
	}
	k := s.K
	if k <= 0 {
		k = 5
	}
	if k > len(pool)-1 {
		k = len(pool) - 1
	}
	if k < 1 {
		return nil, nil, fmt.Errorf("%w: class %d has %d samples", ErrTooFewMinority, minority, len(pool))
	}

	neighbours := nearestNeighbours(pool, k)
	rng := rand.New(rand.NewSource(s.Seed))
	for n := 0; n < deficit; n++ {
		i := rng.Intn(len(pool))
		j := neighbours[i][rng.Intn(k)]
		gap := rng.Float64()

		synthetic := make([]float64, len(pool[i]))
		copy(synthetic, pool[j])
		floats.Sub(synthetic, pool[i])
		floats.Scale(gap, synthetic)
		floats.Add(synthetic, pool[i])

		outX = append(outX, synthetic)
		outY = append(outY, minority)
	}
	return outX, outY, nil
}

// nearestNeighbours returns, for each point, the indices of its k closest
// other points by Euclidean distance.
func nearestNeighbours(points [][]float64, k int) [][]int {
	type candidate struct {
		idx  int
		dist float64
	}
	out := make([][]int, len(points))
	candidates := make([]candidate, 0, len(points)-1)
	for i, p := range points {
		candidates = candidates[:0]
		for j, q := range points {
			if i == j {
				continue
			}
			candidates = append(candidates, candidate{idx: j, dist: floats.Distance(p, q, 2)})
		}
		sort.SliceStable(candidates, func(a, b int) bool {
			return candidates[a].dist < candidates[b].dist
		})
		nearest := make([]int, k)
		for n := 0; n < k; n++ {
			nearest[n] = candidates[n].idx
		}
		out[i] = nearest
	}
	return out
}
