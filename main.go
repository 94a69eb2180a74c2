package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gestureecho/config"
	"gestureecho/db"
	"gestureecho/gesture"
	qhttp "gestureecho/http"
	"gestureecho/logging"
	"gestureecho/monitoring"
	"gestureecho/pipeline"
	"gestureecho/predict"
	"gestureecho/speech"
	"gestureecho/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	// 2. Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	// 3. Stores and model
	gestures := gesture.NewMapStore(cfg.Paths.GestureMap, logger.Named("gesture"))
	if err := gestures.Load(); err != nil {
		logger.Fatal("Failed to load gesture map", zap.Error(err))
	}
	logger.Info("available gesture mappings", zap.Any("gesture_map", gestures.All()))

	samples := storage.NewSampleStore(cfg.Paths.Data)

	predictor, err := predict.NewService(cfg.Predict(), logger.Named("predict"))
	if err != nil {
		logger.Fatal("Failed to create prediction service", zap.Error(err))
	}
	if err := predictor.Load(); err != nil {
		logger.Error("Failed to load model", zap.Error(err))
	}

	synth, err := speech.New(cfg.Speech, logger.Named("speech"))
	if err != nil {
		logger.Fatal("Failed to create synthesizer", zap.Error(err))
	}
	speaker := speech.NewSpeaker(synth, database, logger.Named("speech"))
	defer speaker.Close()

	trainer := pipeline.NewTrainer(cfg.Training(), samples, database, logger.Named("training"))

	hub := monitoring.NewHub(logger.Named("ws"))
	go hub.Start()
	defer hub.Stop()

	handlers := qhttp.NewHandlers(qhttp.Deps{
		Gestures:  gestures,
		Samples:   samples,
		Predictor: predictor,
		Speaker:   speaker,
		Trainer:   trainer,
		History:   database,
		Hub:       hub,
		Metrics:   monitoring.NewMetricsCollector(),
		HotSwap:   cfg.ML.HotSwap,
	}, logger.Named("http"))
	hub.SetSnapshot(func() any { return handlers.Status() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Watch.Enabled {
		go func() {
			err := gestures.Watch(ctx, cfg.Watch.Debounce, handlers.PublishGestureMap)
			if err != nil && ctx.Err() == nil {
				logger.Error("gesture map watcher stopped", zap.Error(err))
			}
		}()
	}

	// 4. Start HTTP server
	server := qhttp.NewServer(cfg.HTTP, handlers, logger.Named("http"))
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
}
