package http

import (
	"math/rand"
	"net/http"
	"path/filepath"
	"testing"

	"strokerisk/db"
	"strokerisk/ml"
	"strokerisk/monitoring"
)

// trainingRecords uses the dataset vocabulary that the form maps onto.
// Stroke depends on age alone.
func trainingRecords(n int) []ml.PatientRecord {
	rng := rand.New(rand.NewSource(7))
	genders := []string{"Female", "Male"}
	works := []string{"Govt_job", "Never_worked", "Private", "Self-employed", "children"}
	smoking := []string{"formerly smoked", "never smoked", "smokes"}
	residences := []string{"Rural", "Urban"}
	married := []string{"No", "Yes"}

	records := make([]ml.PatientRecord, n)
	for i := range records {
		age := float64((i*37)%100 + 1)
		stroke := 0
		if age > 60 {
			stroke = 1
		}
		records[i] = ml.PatientRecord{
			ID:              int64(i + 1),
			Gender:          genders[rng.Intn(len(genders))],
			Age:             age,
			Hypertension:    float64(rng.Intn(2)),
			HeartDisease:    float64(rng.Intn(2)),
			EverMarried:     married[rng.Intn(len(married))],
			WorkType:        works[rng.Intn(len(works))],
			ResidenceType:   residences[rng.Intn(len(residences))],
			AvgGlucoseLevel: 60 + rng.Float64()*200,
			BMI:             15 + rng.Float64()*30,
			SmokingStatus:   smoking[rng.Intn(len(smoking))],
			Stroke:          stroke,
		}
	}
	return records
}

func testArtifacts(t *testing.T, runID string) *ml.Artifacts {
	t.Helper()
	records := trainingRecords(200)
	enc, err := ml.FitEncoder(records, ml.EncoderOptions{})
	if err != nil {
		t.Fatalf("fit encoder: %v", err)
	}
	X, y, err := ml.BuildTrainingSet(records, enc)
	if err != nil {
		t.Fatalf("build training set: %v", err)
	}
	rf := ml.NewRandomForest(5, 1)
	// Every split sees every column, so each tree roots on age.
	rf.MaxFeatures = len(enc.FeatureNames())
	if err := rf.Train(X, y); err != nil {
		t.Fatalf("train: %v", err)
	}
	a, err := ml.NewArtifacts(rf, enc, ml.TrainingInfo{RunID: runID, Rows: len(records)})
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	return a
}

func testPredictor(t *testing.T) *ml.Predictor {
	t.Helper()
	p, err := ml.NewPredictor(testArtifacts(t, "run-test"))
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	return p
}

func saveArtifacts(t *testing.T, dir string, a *ml.Artifacts) (string, string) {
	t.Helper()
	modelPath := filepath.Join(dir, "stroke_prediction_model.json")
	namesPath := filepath.Join(dir, "model_features.json")
	if err := ml.SaveArtifacts(a, modelPath, namesPath); err != nil {
		t.Fatalf("save artifacts: %v", err)
	}
	return modelPath, namesPath
}

func openStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

type testServer struct {
	api     *API
	service *PredictionService
	models  *ModelHolder
	store   *db.Store
	handler http.Handler
}

// newTestServer builds the full middleware chain. loaded controls whether a
// model is installed.
func newTestServer(t *testing.T, loaded bool) *testServer {
	t.Helper()
	models := NewModelHolder("", "", nil)
	if loaded {
		models.Set(testPredictor(t))
	}
	store := openStore(t)
	metrics := monitoring.NewMetricsCollector()
	service, err := NewPredictionService(models, 16, store, metrics, nil)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	api := NewAPI(service, store, metrics, nil, nil)
	return &testServer{
		api:     api,
		service: service,
		models:  models,
		store:   store,
		handler: NewHandler(DefaultServerConfig(), api, nil),
	}
}

func highRiskForm() FormInput {
	f := DefaultFormInput()
	f.Age = 90
	return f
}

func lowRiskForm() FormInput {
	f := DefaultFormInput()
	f.Age = 20
	return f
}
