package ml

import (
	"errors"
	"fmt"
)

var (
	ErrNotTrained     = errors.New("model not trained")
	ErrEmptyTraining  = errors.New("features or labels empty")
	ErrFeatureLength  = errors.New("feature vector length mismatch")
	ErrInvalidLabel   = errors.New("label must be 0 or 1")
	ErrTooFewMinority = errors.New("too few minority samples to oversample")
	ErrInvalidRatio   = errors.New("test ratio must be in (0, 1)")
)

// Classifier is a binary classifier over dense feature vectors.
type Classifier interface {
	Train(features [][]float64, labels []int) error
	Predict(features []float64) (int, float64, error)
	PredictProba(features []float64) ([]float64, error)
}

// ModelProvider is the prediction side of a Classifier.
type ModelProvider interface {
	Predict(features []float64) (int, float64, error)
}

func validateTrainingSet(features [][]float64, labels []int) (int, error) {
	if len(features) == 0 || len(labels) == 0 {
		return 0, ErrEmptyTraining
	}
	if len(features) != len(labels) {
		return 0, errors.New("features and labels size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return 0, errors.New("feature vectors are empty")
	}
	for i, row := range features {
		if len(row) != width {
			return 0, fmt.Errorf("row %d: %w: got %d, want %d", i, ErrFeatureLength, len(row), width)
		}
	}
	for i, label := range labels {
		if label < 0 || label >= numClasses {
			return 0, fmt.Errorf("row %d: %w: got %d", i, ErrInvalidLabel, label)
		}
	}
	return width, nil
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
