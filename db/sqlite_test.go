package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"strokerisk/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "db", "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTrainingLogRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	older := TrainingLog{
		RunID: "run-a", ModelName: "random_forest", Accuracy: 0.91, Precision: 0.4, Recall: 0.3, F1: 0.34,
		TrainedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), DataPoints: 5110, TrainRows: 3577, TestRows: 1533,
	}
	newer := older
	newer.RunID = "run-b"
	newer.Oversampled = true
	newer.TrainedAt = older.TrainedAt.Add(time.Hour)
	newer.FeatureDigest = "abc"

	for _, l := range []TrainingLog{older, newer} {
		if err := store.SaveTrainingLog(ctx, l); err != nil {
			t.Fatalf("save %s: %v", l.RunID, err)
		}
	}

	logs, err := store.LoadTrainingLog(ctx, 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].RunID != "run-b" || !logs[0].Oversampled || logs[0].FeatureDigest != "abc" {
		t.Errorf("unexpected newest log %+v", logs[0])
	}
	if !logs[1].TrainedAt.Equal(older.TrainedAt) || logs[1].TrainRows != 3577 {
		t.Errorf("unexpected oldest log %+v", logs[1])
	}

	limited, err := store.LoadTrainingLog(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit 1: got %d logs, err %v", len(limited), err)
	}

	if err := store.SaveTrainingLog(ctx, older); err == nil {
		t.Error("expected unique constraint error for duplicate run id")
	}
	if err := store.SaveTrainingLog(ctx, TrainingLog{}); err == nil {
		t.Error("expected error for empty run id")
	}
}

func TestPredictions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, source := range []string{"form", "api", "ws"} {
		p := Prediction{
			RequestID:   source + "-req",
			ModelID:     "run-a",
			Source:      source,
			Label:       i % 2,
			Probability: 0.7,
			Input:       `{"age":30}`,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		if err := store.SavePrediction(ctx, p); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	recent, err := store.RecentPredictions(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 predictions, got %d", len(recent))
	}
	if recent[0].Source != "ws" || recent[1].Source != "api" {
		t.Errorf("unexpected order: %s, %s", recent[0].Source, recent[1].Source)
	}
	if recent[0].Input != `{"age":30}` || recent[0].Label != 0 {
		t.Errorf("unexpected prediction %+v", recent[0])
	}
}

func TestQualityIssues(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	issues := []pipeline.QualityIssue{
		{Rule: "label_validation", Severity: "high", Message: "bad", Row: 3, Timestamp: time.Now()},
		{Rule: "duplicate_detection", Severity: "high", Message: "dup", Row: 9, RecordID: 42, Timestamp: time.Now()},
	}
	if err := store.SaveQualityIssues(ctx, "run-a", issues); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveQualityIssues(ctx, "run-a", nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	n, err := store.CountQualityIssues(ctx, "run-a")
	if err != nil || n != 2 {
		t.Fatalf("count = %d, err %v", n, err)
	}
}

func TestInMemoryStore(t *testing.T) {
	a, err := Open("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	b, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	if err := a.SaveTrainingLog(ctx, TrainingLog{RunID: "only-in-a", TrainedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	logs, err := b.LoadTrainingLog(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 0 {
		t.Errorf("in-memory stores must be independent, got %d logs", len(logs))
	}
	if err := a.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestNilStore(t *testing.T) {
	var s *Store
	if err := s.SavePrediction(context.Background(), Prediction{}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("close on nil store: %v", err)
	}
}
