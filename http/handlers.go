package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"strokerisk/db"
	"strokerisk/ml"
	"strokerisk/monitoring"
)

// History reads what the trainer and the server have stored. *db.Store
// implements it.
type History interface {
	LoadTrainingLog(ctx context.Context, limit int) ([]db.TrainingLog, error)
	RecentPredictions(ctx context.Context, limit int) ([]db.Prediction, error)
	Ping(ctx context.Context) error
}

// API serves the form page, the JSON endpoints and the live websocket.
type API struct {
	service *PredictionService
	history History
	metrics *monitoring.MetricsCollector
	hub     *monitoring.Hub
	logger  *zap.Logger
	page    *pageRenderer
}

// NewAPI wires the handlers. history and hub may be nil; the endpoints
// backed by them then answer 503 or 404.
func NewAPI(service *PredictionService, history History, metrics *monitoring.MetricsCollector, hub *monitoring.Hub, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector()
	}
	return &API{
		service: service,
		history: history,
		metrics: metrics,
		hub:     hub,
		logger:  logger,
		page:    newPageRenderer(),
	}
}

func (a *API) Metrics() *monitoring.MetricsCollector {
	return a.metrics
}

// RegisterHandlers 注册所有路由
func (a *API) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", a.handleIndex)
	mux.HandleFunc("POST /predict", a.handleFormPredict)
	mux.HandleFunc("POST /api/predict", a.handleAPIPredict)
	mux.HandleFunc("GET /api/model", a.handleModel)
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/metrics", a.handleMetrics)
	mux.HandleFunc("GET /api/predictions", a.handlePredictions)
	mux.HandleFunc("GET /api/training", a.handleTraining)
	if a.hub != nil {
		mux.HandleFunc("GET /ws/predict", a.hub.HandleWebSocket)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "ok"}

	model := map[string]interface{}{"loaded": false}
	if p, err := a.service.Models().Current(); err == nil {
		model["loaded"] = true
		model["model_id"] = p.ModelID()
		model["loaded_at"] = a.service.Models().LoadedAt()
	}
	status["model"] = model

	if a.history != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := a.history.Ping(ctx); err != nil {
			status["database"] = "unavailable"
		} else {
			status["database"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, status)
}

type modelResponse struct {
	ModelID       string          `json:"model_id"`
	FeatureNames  []string        `json:"feature_names"`
	FeatureDigest string          `json:"feature_digest"`
	CreatedAt     time.Time       `json:"created_at"`
	LoadedAt      time.Time       `json:"loaded_at"`
	Trees         int             `json:"trees"`
	Training      ml.TrainingInfo `json:"training"`
}

func (a *API) handleModel(w http.ResponseWriter, r *http.Request) {
	p, err := a.service.Models().Current()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	art := p.Artifacts()
	writeJSON(w, http.StatusOK, modelResponse{
		ModelID:       p.ModelID(),
		FeatureNames:  p.FeatureNames(),
		FeatureDigest: p.Digest(),
		CreatedAt:     art.CreatedAt,
		LoadedAt:      a.service.Models().LoadedAt(),
		Trees:         art.Forest.Size(),
		Training:      art.Training,
	})
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	a.metrics.SetGauge("prediction_cache_entries", float64(a.service.CacheLen()), nil)
	if a.hub != nil {
		a.metrics.SetGauge("websocket_clients", float64(a.hub.ClientCount()), nil)
	}

	if r.URL.Query().Get("format") == "prometheus" {
		a.metrics.Handler().ServeHTTP(w, r)
		return
	}
	data, err := a.metrics.ExportJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (a *API) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, db.ErrNotInitialized)
		return
	}
	limit, err := limitParam(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	preds, err := a.history.RecentPredictions(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"predictions": preds, "count": len(preds)})
}

func (a *API) handleTraining(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, db.ErrNotInitialized)
		return
	}
	limit, err := limitParam(r, 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	runs, err := a.history.LoadTrainingLog(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

func limitParam(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 1000 {
		return 0, errors.New("limit must be an integer in [1, 1000]")
	}
	return n, nil
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *ValidationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrModelUnavailable), errors.Is(err, db.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
