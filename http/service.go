package http

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"strokerisk/db"
	"strokerisk/ml"
	"strokerisk/monitoring"
)

// Risk levels reported next to the message.
const (
	RiskLow  = "low"
	RiskHigh = "high"
)

// ValidationError wraps form problems so handlers can answer 400.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Recorder stores served predictions. *db.Store implements it.
type Recorder interface {
	SavePrediction(ctx context.Context, p db.Prediction) error
}

// Result is one prediction as the handlers return it.
type Result struct {
	RequestID   string    `json:"request_id"`
	ModelID     string    `json:"model_id"`
	Label       int       `json:"label"`
	Probability float64   `json:"probability"`
	Proba       []float64 `json:"proba"`
	RiskLevel   string    `json:"risk_level"`
	Message     string    `json:"message"`
	Warnings    []string  `json:"warnings,omitempty"`
	Cached      bool      `json:"cached"`
}

// PredictionService validates form input, encodes it through the serving
// model and caches results per model and vector.
type PredictionService struct {
	models   *ModelHolder
	cache    *lru.Cache[string, ml.Prediction]
	recorder Recorder
	metrics  *monitoring.MetricsCollector
	logger   *zap.Logger
}

// NewPredictionService builds the service. cacheSize <= 0 disables caching;
// recorder and metrics may be nil.
func NewPredictionService(models *ModelHolder, cacheSize int, recorder Recorder, metrics *monitoring.MetricsCollector, logger *zap.Logger) (*PredictionService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PredictionService{models: models, recorder: recorder, metrics: metrics, logger: logger}
	if cacheSize > 0 {
		cache, err := lru.New[string, ml.Prediction](cacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	if metrics != nil {
		metrics.Describe("predictions_total", "Predictions served by source and label.")
		metrics.Describe("prediction_cache_hits_total", "Predictions answered from the cache.")
		metrics.Describe("prediction_duration_seconds", "Time to encode and classify one form.")
	}
	models.OnReload(func(*ml.Predictor) { s.PurgeCache() })
	return s, nil
}

// PurgeCache drops every cached prediction.
func (s *PredictionService) PurgeCache() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

// CacheLen is the number of cached predictions.
func (s *PredictionService) CacheLen() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Len()
}

// Models exposes the holder the service predicts with.
func (s *PredictionService) Models() *ModelHolder {
	return s.models
}

// Predict classifies one form submission. source names the surface the
// request came through and is stored with the prediction.
func (s *PredictionService) Predict(ctx context.Context, input FormInput, source string) (Result, error) {
	start := time.Now()
	if err := input.Validate(); err != nil {
		return Result{}, &ValidationError{Err: err}
	}
	predictor, err := s.models.Current()
	if err != nil {
		return Result{}, err
	}

	vec, warnings, err := predictor.Encode(input.Record())
	if err != nil {
		return Result{}, err
	}

	key := cacheKey(predictor.ModelID(), vec)
	pred, cached := s.lookup(key)
	if !cached {
		pred, err = predictor.PredictVector(vec)
		if err != nil {
			return Result{}, err
		}
		if s.cache != nil {
			s.cache.Add(key, pred)
		}
	}
	pred.Warnings = warnings

	requestID := GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	res := Result{
		RequestID:   requestID,
		ModelID:     predictor.ModelID(),
		Label:       pred.Label,
		Probability: pred.Probability,
		Proba:       pred.Proba,
		RiskLevel:   RiskLow,
		Message:     LowRiskMessage,
		Warnings:    pred.Warnings,
		Cached:      cached,
	}
	if pred.HighRisk() {
		res.RiskLevel = RiskHigh
		res.Message = HighRiskMessage
	}

	s.record(ctx, res, input, source)
	if s.metrics != nil {
		s.metrics.IncrCounter("predictions_total", 1, map[string]string{"source": source, "label": strconv.Itoa(res.Label)})
		if cached {
			s.metrics.IncrCounter("prediction_cache_hits_total", 1, nil)
		}
		s.metrics.ObserveDuration("prediction_duration_seconds", time.Since(start), nil)
	}
	for _, w := range warnings {
		s.logger.Warn("prediction input warning", zap.String("request_id", requestID), zap.String("warning", w))
	}
	return res, nil
}

func (s *PredictionService) lookup(key string) (ml.Prediction, bool) {
	if s.cache == nil {
		return ml.Prediction{}, false
	}
	return s.cache.Get(key)
}

// record stores the prediction. A storage failure is logged and does not
// fail the request.
func (s *PredictionService) record(ctx context.Context, res Result, input FormInput, source string) {
	if s.recorder == nil {
		return
	}
	payload, err := json.Marshal(input)
	if err != nil {
		s.logger.Warn("failed to encode prediction input", zap.Error(err))
	}
	err = s.recorder.SavePrediction(ctx, db.Prediction{
		RequestID:   res.RequestID,
		ModelID:     res.ModelID,
		Source:      source,
		Label:       res.Label,
		Probability: res.Probability,
		Input:       string(payload),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to record prediction", zap.String("request_id", res.RequestID), zap.Error(err))
	}
}

func cacheKey(modelID string, vec []float64) string {
	var b strings.Builder
	b.WriteString(modelID)
	for _, v := range vec {
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}
