package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"strokerisk/config"
	"strokerisk/db"
	shttp "strokerisk/http"
	"strokerisk/logging"
	"strokerisk/monitoring"
)

func main() {
	configPath := flag.String("config", "", "config file (default: config.yaml in . or ..)")
	flag.Parse()

	// 1. Load config
	cfg, resolved, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	if resolved != "" {
		logger.Info("config loaded", zap.String("path", resolved))
	}

	// 2. Initialize database
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to open database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer store.Close()
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	// 3. Load the model; the app still starts without one and answers 503
	models := shttp.NewModelHolder(cfg.Model.Path, cfg.Model.FeaturesPath, logger)
	if err := models.Reload(); err != nil {
		logger.Warn("serving without a model until the artifacts appear", zap.Error(err))
	}

	metrics := monitoring.NewMetricsCollector()
	service, err := shttp.NewPredictionService(models, cfg.Model.CacheSize, store, metrics, logger)
	if err != nil {
		logger.Fatal("failed to build prediction service", zap.Error(err))
	}

	hubOpts := []monitoring.HubOption{}
	if len(cfg.Http.AllowedOrigins) > 0 {
		hubOpts = append(hubOpts, monitoring.WithCheckOrigin(shttp.OriginAllowed(cfg.Http.AllowedOrigins)))
	}
	hub := monitoring.NewHub(shttp.NewLiveHandler(service), logger, hubOpts...)
	go hub.Run()
	shttp.BroadcastReloads(models, hub, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Model.Watch {
		go func() {
			if err := models.Watch(ctx, cfg.Model.ReloadDebounce); err != nil {
				logger.Warn("model watcher stopped", zap.Error(err))
			}
		}()
	}

	// 4. Start HTTP server
	api := shttp.NewAPI(service, store, metrics, hub, logger)
	server := shttp.NewServer(shttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.RequestTimeout,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, api, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// 5. Handle graceful shutdown
	failed := false
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			failed = true
		}
	}
	stop()

	if err := server.Stop(context.Background()); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	hub.Stop()
	logger.Info("exiting")
	if failed {
		logger.Sync()
		os.Exit(1)
	}
}
