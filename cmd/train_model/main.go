package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"strokerisk/config"
	"strokerisk/db"
	"strokerisk/logging"
	"strokerisk/training"
)

func main() {
	configPath := flag.String("config", "", "config file (default: config.yaml in . or ..)")
	dataPath := flag.String("data", "", "patient CSV")
	encoding := flag.String("encoding", "", "CSV text encoding")
	modelPath := flag.String("model_path", "", "model output path")
	featuresPath := flag.String("features_path", "", "feature-name output path")
	testRatio := flag.Float64("test_ratio", 0.3, "held-out ratio")
	seed := flag.Int64("seed", 42, "random seed for split, SMOTE and forest")
	trees := flag.Int("trees", 100, "number of trees")
	maxDepth := flag.Int("max_depth", 0, "max tree depth, 0 for unlimited")
	minLeaf := flag.Int("min_samples_leaf", 1, "minimum samples per leaf")
	smote := flag.Bool("smote", true, "oversample the minority class of the training split")
	plotsDir := flag.String("plots", "", "directory for the exploratory charts, empty to skip")
	dropID := flag.Bool("drop_id", true, "exclude the id column from the features")
	flag.Parse()

	// 1. Load config
	cfg, resolved, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	opts := training.DefaultOptions()
	tc := cfg.Training
	opts.DataPath = tc.DataPath
	opts.Encoding = tc.Encoding
	opts.ModelPath = cfg.Model.Path
	opts.FeaturesPath = cfg.Model.FeaturesPath
	opts.TestRatio = tc.TestRatio
	opts.Seed = tc.Seed
	opts.Trees = tc.Trees
	opts.MaxDepth = tc.MaxDepth
	opts.MinSamplesLeaf = tc.MinSamplesLeaf
	opts.SMOTE = tc.SMOTE
	opts.DropID = tc.DropID
	opts.PlotsDir = tc.PlotsDir

	// explicitly set flags win over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			opts.DataPath = *dataPath
		case "encoding":
			opts.Encoding = *encoding
		case "model_path":
			opts.ModelPath = *modelPath
		case "features_path":
			opts.FeaturesPath = *featuresPath
		case "test_ratio":
			opts.TestRatio = *testRatio
		case "seed":
			opts.Seed = *seed
		case "trees":
			opts.Trees = *trees
		case "max_depth":
			opts.MaxDepth = *maxDepth
		case "min_samples_leaf":
			opts.MinSamplesLeaf = *minLeaf
		case "smote":
			opts.SMOTE = *smote
		case "plots":
			opts.PlotsDir = *plotsDir
		case "drop_id":
			opts.DropID = *dropID
		}
	})

	// 2. Logger
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	if resolved != "" {
		logger.Info("config loaded", zap.String("path", resolved))
	}

	// 3. Training log
	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer store.Close()
		opts.Recorder = store
	}
	opts.Out = os.Stdout

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Train
	res, err := training.Run(ctx, opts, logger)
	if err != nil {
		logger.Error("training failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	fmt.Println("Model Accuracy:", res.Evaluation.Accuracy)
	fmt.Println("Classification Report:")
	fmt.Println(res.Evaluation.Report())
	fmt.Printf("model saved to %s\n", opts.ModelPath)
	fmt.Printf("feature names saved to %s\n", opts.FeaturesPath)
}
