package ml

import (
	"fmt"
	"strings"
)

// ClassMetrics holds precision, recall and F1 for one class.
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Evaluation summarises predictions on a held-out set.
type Evaluation struct {
	Accuracy float64 `json:"accuracy"`
	// Confusion[actual][predicted]
	Confusion   [numClasses][numClasses]int `json:"confusion"`
	Classes     []ClassMetrics              `json:"classes"`
	MacroAvg    ClassMetrics                `json:"macro_avg"`
	WeightedAvg ClassMetrics                `json:"weighted_avg"`
	Support     int                         `json:"support"`
}

// Evaluate predicts every row and scores the result against labels.
func Evaluate(model ModelProvider, features [][]float64, labels []int) (Evaluation, error) {
	if len(features) != len(labels) {
		return Evaluation{}, fmt.Errorf("features and labels size mismatch: %d vs %d", len(features), len(labels))
	}
	predicted := make([]int, len(features))
	for i, row := range features {
		label, _, err := model.Predict(row)
		if err != nil {
			return Evaluation{}, fmt.Errorf("row %d: %w", i, err)
		}
		predicted[i] = label
	}
	return Score(labels, predicted)
}

// Score compares actual and predicted labels.
func Score(actual, predicted []int) (Evaluation, error) {
	if len(actual) != len(predicted) {
		return Evaluation{}, fmt.Errorf("actual and predicted size mismatch: %d vs %d", len(actual), len(predicted))
	}
	var ev Evaluation
	ev.Support = len(actual)
	if ev.Support == 0 {
		return ev, nil
	}

	correct := 0
	for i := range actual {
		a, p := actual[i], predicted[i]
		if a < 0 || a >= numClasses || p < 0 || p >= numClasses {
			return Evaluation{}, fmt.Errorf("row %d: %w", i, ErrInvalidLabel)
		}
		ev.Confusion[a][p]++
		if a == p {
			correct++
		}
	}
	ev.Accuracy = float64(correct) / float64(ev.Support)

	for c := 0; c < numClasses; c++ {
		tp := ev.Confusion[c][c]
		predictedPos, actualPos := 0, 0
		for k := 0; k < numClasses; k++ {
			predictedPos += ev.Confusion[k][c]
			actualPos += ev.Confusion[c][k]
		}
		m := ClassMetrics{Label: fmt.Sprintf("%d", c), Support: actualPos}
		if predictedPos > 0 {
			m.Precision = float64(tp) / float64(predictedPos)
		}
		if actualPos > 0 {
			m.Recall = float64(tp) / float64(actualPos)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		ev.Classes = append(ev.Classes, m)

		ev.MacroAvg.Precision += m.Precision / numClasses
		ev.MacroAvg.Recall += m.Recall / numClasses
		ev.MacroAvg.F1 += m.F1 / numClasses

		w := float64(m.Support) / float64(ev.Support)
		ev.WeightedAvg.Precision += m.Precision * w
		ev.WeightedAvg.Recall += m.Recall * w
		ev.WeightedAvg.F1 += m.F1 * w
	}
	ev.MacroAvg.Label = "macro avg"
	ev.MacroAvg.Support = ev.Support
	ev.WeightedAvg.Label = "weighted avg"
	ev.WeightedAvg.Support = ev.Support
	return ev, nil
}

// Report renders the evaluation as a plain-text classification report.
func (ev Evaluation) Report() string {
	const width = 12
	var b strings.Builder
	fmt.Fprintf(&b, "%*s  %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for _, m := range ev.Classes {
		fmt.Fprintf(&b, "%*s  %9.2f %9.2f %9.2f %9d\n", width, m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s  %9s %9s %9.2f %9d\n", width, "accuracy", "", "", ev.Accuracy, ev.Support)
	for _, m := range []ClassMetrics{ev.MacroAvg, ev.WeightedAvg} {
		fmt.Fprintf(&b, "%*s  %9.2f %9.2f %9.2f %9d\n", width, m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}
	return b.String()
}
