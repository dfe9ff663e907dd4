package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// BuildTrainingSet encodes records into feature vectors and stroke labels.
func BuildTrainingSet(records []PatientRecord, encoder *Encoder) (features [][]float64, labels []int, err error) {
	if len(records) == 0 {
		return nil, nil, errors.New("records is empty")
	}
	if encoder == nil {
		return nil, nil, errors.New("encoder is required")
	}

	labels = make([]int, len(records))
	for i, record := range records {
		if record.Stroke < 0 || record.Stroke >= numClasses {
			return nil, nil, fmt.Errorf("record %d: %w: got %d", i, ErrInvalidLabel, record.Stroke)
		}
		labels[i] = record.Stroke
	}
	features, err = encoder.EncodeAll(records)
	if err != nil {
		return nil, nil, err
	}
	return features, labels, nil
}

// TrainTestSplit shuffles the rows with a seeded source and holds out
// ceil(testRatio*n) of them, keeping at least one training row.
func TrainTestSplit(features [][]float64, labels []int, testRatio float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int, err error) {
	if testRatio <= 0 || testRatio >= 1 || math.IsNaN(testRatio) {
		return nil, nil, nil, nil, fmt.Errorf("%w: %v", ErrInvalidRatio, testRatio)
	}
	if len(features) != len(labels) {
		return nil, nil, nil, nil, fmt.Errorf("%d feature rows for %d labels", len(features), len(labels))
	}
	n := len(features)
	if n < 2 {
		return nil, nil, nil, nil, fmt.Errorf("%w: %d rows cannot be split", ErrEmptyTraining, n)
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(n)

	nTest := int(math.Ceil(float64(n) * testRatio))
	if nTest >= n {
		nTest = n - 1
	}
	for i, idx := range indices {
		if i < nTest {
			testX = append(testX, features[idx])
			testY = append(testY, labels[idx])
		} else {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY, nil
}

// ClassBalance counts labels per class.
func ClassBalance(labels []int) map[int]int {
	counts := make(map[int]int, numClasses)
	for _, label := range labels {
		counts[label]++
	}
	return counts
}
