// Package training runs the full pipeline that turns a patient CSV into a
// persisted stroke model.
package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"strokerisk/db"
	"strokerisk/ml"
	"strokerisk/pipeline"
	"strokerisk/report"
)

// ModelName is stored with every run in the training log.
const ModelName = "random_forest"

// Recorder stores the outcome of a run. *db.Store implements it.
type Recorder interface {
	SaveTrainingLog(ctx context.Context, log db.TrainingLog) error
	SaveQualityIssues(ctx context.Context, runID string, issues []pipeline.QualityIssue) error
}

type Options struct {
	DataPath     string
	Encoding     string
	ModelPath    string
	FeaturesPath string

	TestRatio      float64
	Seed           int64
	Trees          int
	MaxDepth       int
	MinSamplesLeaf int
	SMOTE          bool
	DropID         bool

	// PlotsDir receives the exploratory charts; empty skips them.
	PlotsDir string

	// Recorder may be nil.
	Recorder Recorder
	// Out receives the head, describe and missing-value output. Nil
	// discards it.
	Out io.Writer
}

// DefaultOptions mirrors the defaults of the training command.
func DefaultOptions() Options {
	return Options{
		Encoding:       "utf-8",
		ModelPath:      "models/stroke_prediction_model.json",
		FeaturesPath:   "models/model_features.json",
		TestRatio:      0.3,
		Seed:           42,
		Trees:          100,
		MinSamplesLeaf: 1,
		SMOTE:          true,
		DropID:         true,
	}
}

// Validate reports every unusable option at once. The CLI merges flags
// over the config after the config was validated, so the run checks again.
func (o Options) Validate() error {
	var err error
	if o.DataPath == "" {
		err = multierr.Append(err, errors.New("data path is required"))
	}
	if o.ModelPath == "" || o.FeaturesPath == "" {
		err = multierr.Append(err, errors.New("model and feature-name paths are required"))
	}
	if o.ModelPath != "" && o.ModelPath == o.FeaturesPath {
		err = multierr.Append(err, errors.New("model and feature-name paths must differ"))
	}
	if r := o.TestRatio; !(r > 0 && r < 1) {
		err = multierr.Append(err, fmt.Errorf("test ratio %v must be in (0, 1)", r))
	}
	if o.Trees <= 0 {
		err = multierr.Append(err, fmt.Errorf("trees %d must be positive", o.Trees))
	}
	if o.MaxDepth < 0 {
		err = multierr.Append(err, fmt.Errorf("max depth %d must not be negative", o.MaxDepth))
	}
	if o.MinSamplesLeaf < 1 {
		err = multierr.Append(err, fmt.Errorf("min samples leaf %d must be at least 1", o.MinSamplesLeaf))
	}
	return err
}

// Result summarises a finished run.
type Result struct {
	RunID       string
	Rows        int
	Rejected    int
	TrainRows   int
	TestRows    int
	Oversampled bool
	Evaluation  ml.Evaluation
	Artifacts   *ml.Artifacts
	Plots       []string
	Duration    time.Duration
}

// Run loads, cleans, encodes, splits, optionally oversamples, fits the
// forest, evaluates it on the held-out split and saves the artifact pair.
func Run(ctx context.Context, opts Options, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	start := time.Now()
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	// 1. Load
	ds, err := pipeline.LoadCSV(ctx, opts.DataPath, pipeline.DecodeOptions{Encoding: opts.Encoding})
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	logger.Info("dataset loaded", zap.String("path", opts.DataPath), zap.Int("rows", len(ds.Records)),
		zap.Any("missing", pipeline.MissingCounts(ds)))
	if err := WriteHead(out, pipeline.Head(ds, 5)); err != nil {
		return nil, err
	}
	fmt.Fprintln(out)
	if err := pipeline.WriteSummary(out, pipeline.Describe(ds)); err != nil {
		return nil, err
	}
	fmt.Fprintln(out)

	// 2. Clean
	cleaner := pipeline.NewDataCleaner(logger)
	records, issues := cleaner.Clean(ds.Records)
	stats := cleaner.GetStats()
	logger.Info("dataset cleaned", zap.Int64("passed", stats.Passed), zap.Int64("rejected", stats.Rejected),
		zap.Any("issues", stats.Issues))
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: every row was rejected", pipeline.ErrEmptyDataset)
	}

	// 3. Encode with mean imputation
	encoder, err := ml.FitEncoder(records, ml.EncoderOptions{IncludeID: !opts.DropID})
	if err != nil {
		return nil, fmt.Errorf("fit encoder: %w", err)
	}
	X, y, err := ml.BuildTrainingSet(records, encoder)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	fmt.Fprintln(out, "Missing values handled.")
	logger.Info("features encoded", zap.Int("features", len(encoder.FeatureNames())), zap.Any("class_balance", ml.ClassBalance(y)))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 4. Charts
	var plots []string
	if opts.PlotsDir != "" {
		names, matrix := pipeline.EncodedCorrelation(encoder.FeatureNames(), X, y)
		ages := make([]float64, len(records))
		for i, r := range records {
			ages[i] = r.Age
		}
		plots, err = report.Render(opts.PlotsDir, ages, names, matrix)
		if err != nil {
			return nil, fmt.Errorf("render plots: %w", err)
		}
		logger.Info("plots written", zap.Strings("files", plots))
	}

	// 5. Split, then oversample the training part only
	trainX, trainY, testX, testY, err := ml.TrainTestSplit(X, y, opts.TestRatio, opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	oversampled := false
	if opts.SMOTE {
		resX, resY, err := ml.NewSMOTE(opts.Seed).Resample(trainX, trainY)
		switch {
		case errors.Is(err, ml.ErrTooFewMinority):
			logger.Warn("skipping oversampling", zap.Error(err))
		case err != nil:
			return nil, fmt.Errorf("oversample: %w", err)
		default:
			logger.Info("training split oversampled",
				zap.Int("before", len(trainX)), zap.Int("after", len(resX)),
				zap.Any("class_balance", ml.ClassBalance(resY)))
			trainX, trainY = resX, resY
			oversampled = true
		}
	}

	// 6. Fit
	forest := ml.NewRandomForest(opts.Trees, opts.Seed)
	forest.MaxDepth = opts.MaxDepth
	forest.MinSamplesLeaf = opts.MinSamplesLeaf
	fitStart := time.Now()
	if err := forest.Train(trainX, trainY); err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	logger.Info("forest trained", zap.Int("trees", forest.Size()), zap.Duration("took", time.Since(fitStart)))

	// 7. Evaluate
	ev, err := ml.Evaluate(forest, testX, testY)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	// 8. Persist
	info := ml.TrainingInfo{
		RunID:       runID,
		Rows:        len(X),
		TrainRows:   len(trainX),
		TestRows:    len(testX),
		Oversampled: oversampled,
		Evaluation:  &ev,
	}
	artifacts, err := ml.NewArtifacts(forest, encoder, info)
	if err != nil {
		return nil, err
	}
	if err := ml.SaveArtifacts(artifacts, opts.ModelPath, opts.FeaturesPath); err != nil {
		return nil, fmt.Errorf("save artifacts: %w", err)
	}
	logger.Info("model saved", zap.String("model_path", opts.ModelPath), zap.String("features_path", opts.FeaturesPath))

	res := &Result{
		RunID:       runID,
		Rows:        len(ds.Records),
		Rejected:    len(ds.Records) - len(records),
		TrainRows:   len(trainX),
		TestRows:    len(testX),
		Oversampled: oversampled,
		Evaluation:  ev,
		Artifacts:   artifacts,
		Plots:       plots,
		Duration:    time.Since(start),
	}

	if opts.Recorder != nil {
		if err := record(ctx, opts, res, issues); err != nil {
			// The artifacts are already on disk.
			logger.Warn("failed to record training run", zap.Error(err))
		}
	}
	return res, nil
}

func record(ctx context.Context, opts Options, res *Result, issues []pipeline.QualityIssue) error {
	positive := ml.ClassMetrics{}
	if len(res.Evaluation.Classes) > ml.LabelHighRisk {
		positive = res.Evaluation.Classes[ml.LabelHighRisk]
	}
	err := opts.Recorder.SaveTrainingLog(ctx, db.TrainingLog{
		RunID:         res.RunID,
		ModelName:     ModelName,
		Accuracy:      res.Evaluation.Accuracy,
		Precision:     positive.Precision,
		Recall:        positive.Recall,
		F1:            positive.F1,
		TrainedAt:     res.Artifacts.CreatedAt,
		DataPoints:    res.Rows,
		TrainRows:     res.TrainRows,
		TestRows:      res.TestRows,
		Oversampled:   res.Oversampled,
		ModelPath:     opts.ModelPath,
		FeatureDigest: res.Artifacts.FeatureDigest,
	})
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		return nil
	}
	return opts.Recorder.SaveQualityIssues(ctx, res.RunID, issues)
}

// WriteHead prints records as a table, the way the trainer shows the first
// rows of the dataset.
func WriteHead(w io.Writer, records []ml.PatientRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "id\tgender\tage\thypertension\theart_disease\tever_married\twork_type\tResidence_type\tavg_glucose_level\tbmi\tsmoking_status\tstroke\t")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t\n",
			r.ID, r.Gender, number(r.Age), number(r.Hypertension), number(r.HeartDisease),
			r.EverMarried, r.WorkType, r.ResidenceType, number(r.AvgGlucoseLevel), number(r.BMI),
			r.SmokingStatus, r.Stroke)
	}
	return tw.Flush()
}

func number(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}
