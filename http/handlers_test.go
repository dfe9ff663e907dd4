package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"strokerisk/db"
)

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	srv.handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	var body struct {
		Status   string                 `json:"status"`
		Database string                 `json:"database"`
		Model    map[string]interface{} `json:"model"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.Status != "ok" || body.Database != "ok" {
		t.Errorf("unexpected health: %+v", body)
	}
	if body.Model["loaded"] != false {
		t.Errorf("model should not be loaded: %v", body.Model)
	}

	srv.models.Set(testPredictor(t))
	rr = httptest.NewRecorder()
	srv.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.Model["loaded"] != true || body.Model["model_id"] != "run-test" {
		t.Errorf("unexpected model status: %v", body.Model)
	}
}

func TestModelHandler(t *testing.T) {
	srv := newTestServer(t, false)

	rr := httptest.NewRecorder()
	srv.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/model", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a model, got %d", rr.Code)
	}

	p := testPredictor(t)
	srv.models.Set(p)
	rr = httptest.NewRecorder()
	srv.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/model", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body modelResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.FeatureDigest != p.Digest() {
		t.Errorf("digest = %q, want %q", body.FeatureDigest, p.Digest())
	}
	if strings.Join(body.FeatureNames, ",") != strings.Join(p.FeatureNames(), ",") {
		t.Errorf("feature names differ: %v", body.FeatureNames)
	}
	if body.Trees != 5 {
		t.Errorf("trees = %d, want 5", body.Trees)
	}
}

func TestMetricsHandler(t *testing.T) {
	srv := newTestServer(t, true)

	// Generate some traffic first.
	srv.handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	rr := httptest.NewRecorder()
	srv.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if _, ok := body["system"]; !ok {
		t.Error("missing system section")
	}
	if !strings.Contains(string(body["metrics"]), "http_requests_total") {
		t.Errorf("metrics section lacks request counter: %s", body["metrics"])
	}

	rr = httptest.NewRecorder()
	srv.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/metrics?format=prometheus", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	text := rr.Body.String()
	for _, want := range []string{"http_requests_total", "prediction_cache_entries", "go_goroutines"} {
		if !strings.Contains(text, want) {
			t.Errorf("prometheus output lacks %s", want)
		}
	}
}

func TestHistoryHandlers(t *testing.T) {
	srv := newTestServer(t, false)
	ctx := context.Background()
	if err := srv.store.SaveTrainingLog(ctx, db.TrainingLog{RunID: "run-1", ModelName: "random_forest", Accuracy: 0.9, TrainedAt: time.Now()}); err != nil {
		t.Fatalf("save training log: %v", err)
	}
	if err := srv.store.SavePrediction(ctx, db.Prediction{RequestID: "req-1", ModelID: "run-1", Source: SourceAPI, Label: 1, Probability: 0.8}); err != nil {
		t.Fatalf("save prediction: %v", err)
	}

	tests := []struct {
		name   string
		path   string
		status int
		want   string
	}{
		{"training", "/api/training", http.StatusOK, `"run-1"`},
		{"predictions", "/api/predictions?limit=5", http.StatusOK, `"req-1"`},
		{"bad limit", "/api/predictions?limit=zero", http.StatusBadRequest, "limit"},
		{"limit too large", "/api/training?limit=5000", http.StatusBadRequest, "limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.status, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), tt.want) {
				t.Errorf("body %s lacks %s", rr.Body.String(), tt.want)
			}
		})
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	models := NewModelHolder("", "", nil)
	service, err := NewPredictionService(models, 0, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	NewAPI(service, nil, nil, nil, nil).RegisterHandlers(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/training", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestRequestIDAndSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, false)

	rr := httptest.NewRecorder()
	srv.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("missing generated request id")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "client-supplied")
	rr = httptest.NewRecorder()
	srv.handler.ServeHTTP(rr, req)
	if got := rr.Header().Get(RequestIDHeader); got != "client-supplied" {
		t.Errorf("request id = %q, want the client's", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "internal server error") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	handler := CORSMiddleware([]string{"https://clinic.example"})(next)

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin", http.MethodGet, "https://clinic.example", http.StatusTeapot, "https://clinic.example"},
		{"other origin", http.MethodGet, "https://evil.example", http.StatusTeapot, ""},
		{"preflight", http.MethodOptions, "https://clinic.example", http.StatusNoContent, "https://clinic.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/predict", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("allow origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestTimeoutMiddlewareSetsDeadline(t *testing.T) {
	var hasDeadline bool
	handler := TimeoutMiddleware(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !hasDeadline {
		t.Error("request context has no deadline")
	}

	req := httptest.NewRequest(http.MethodGet, "/ws/predict", nil)
	req.Header.Set("Upgrade", "websocket")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if hasDeadline {
		t.Error("websocket upgrade should not get a deadline")
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, false)
	rr := httptest.NewRecorder()
	srv.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tick/sh600000", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestOriginAllowed(t *testing.T) {
	check := OriginAllowed([]string{"https://clinic.example"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://example.com", true},
		{"https://clinic.example", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://example.com/ws/predict", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := check(req); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestNewHandlerWithoutLogger(t *testing.T) {
	models := NewModelHolder("", "", nil)
	service, err := NewPredictionService(models, 0, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	api := NewAPI(service, nil, nil, nil, nil)
	handler := NewHandler(DefaultServerConfig(), api, nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader("{")))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", rr.Code)
	}
}
