package ml

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 1, 1}

	model := NewDecisionTree(2)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	label, confidence, err := model.Predict([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 0 {
		t.Fatalf("expected label 0, got %d", label)
	}
	if confidence != 1 {
		t.Fatalf("expected pure leaf confidence 1, got %f", confidence)
	}
	label, _, err = model.Predict([]float64{0.85, 0.95})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 1 {
		t.Fatalf("expected label 1, got %d", label)
	}
}

func TestDecisionTreeMaxDepth(t *testing.T) {
	features := make([][]float64, 0, 32)
	labels := make([]int, 0, 32)
	for i := 0; i < 32; i++ {
		features = append(features, []float64{float64(i)})
		labels = append(labels, i%2)
	}

	model := NewDecisionTree(3)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if depth := model.Depth(); depth > 3 {
		t.Fatalf("expected depth <= 3, got %d", depth)
	}

	unlimited := NewDecisionTree(0)
	if err := unlimited.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, row := range features {
		label, _, err := unlimited.Predict(row)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if label != labels[i] {
			t.Fatalf("row %d: expected unlimited tree to fit training data, got %d", i, label)
		}
	}
}

func TestDecisionTreeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		features [][]float64
		labels   []int
		want     error
	}{
		{name: "empty", want: ErrEmptyTraining},
		{name: "ragged", features: [][]float64{{1, 2}, {1}}, labels: []int{0, 1}, want: ErrFeatureLength},
		{name: "bad label", features: [][]float64{{1}, {2}}, labels: []int{0, 2}, want: ErrInvalidLabel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDecisionTree(0).Train(tt.features, tt.labels)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecisionTreePredictErrors(t *testing.T) {
	model := NewDecisionTree(0)
	if _, _, err := model.Predict([]float64{1}); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
	if err := model.Train([][]float64{{0, 0}, {1, 1}}, []int{0, 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := model.Predict([]float64{1}); !errors.Is(err, ErrFeatureLength) {
		t.Fatalf("expected ErrFeatureLength, got %v", err)
	}
}

func TestDecisionTreeJSONKeepsPredictions(t *testing.T) {
	features := [][]float64{{1, 5}, {2, 4}, {3, 3}, {4, 2}, {5, 1}, {6, 0}}
	labels := []int{0, 0, 0, 1, 1, 1}
	model := NewDecisionTree(0)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload, err := json.Marshal(model)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var restored DecisionTree
	if err := json.Unmarshal(payload, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, row := range features {
		want, _, _ := model.Predict(row)
		got, _, err := restored.Predict(row)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Fatalf("restored tree predicts %d, original %d", got, want)
		}
	}
}
