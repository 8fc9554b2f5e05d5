package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lifestream-ingest/internal/bulksync"
	"lifestream-ingest/internal/config"
	"lifestream-ingest/internal/database"
	"lifestream-ingest/internal/handlers"
	"lifestream-ingest/internal/metrics"
	"lifestream-ingest/internal/oauth"
	"lifestream-ingest/internal/retransform"
	"lifestream-ingest/internal/strava"
	"lifestream-ingest/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting lifestream-ingest server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"log_level", cfg.LogLevel,
		"daily_limit", cfg.BulkSync.EffectiveDailyLimit(),
		"auto_resume", cfg.AutoResume)

	// Open database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	// Quota tracker, restored from the last persisted windows
	tracker := strava.NewQuotaTracker(time.Now())
	if err := db.RestoreQuotaTracker(context.Background(), tracker, time.Now()); err != nil {
		logger.Warn("Failed to restore quota windows, starting from defaults", "error", err)
	}

	// Create Strava client
	stravaClient := strava.NewClient(cfg.StravaClientID, cfg.StravaClientSecret, tracker)
	stravaClient.SetTelemetry(db)

	// Create OAuth manager and bulk sync engine
	oauthManager := oauth.NewManager(db, stravaClient)
	runner := bulksync.NewRunner(db, stravaClient, oauthManager, bulksync.OptionsFromConfig(cfg.BulkSync))

	// Background runs stop with the process
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	// Create handlers
	bulkSyncHandler := handlers.NewBulkSyncHandler(runCtx, runner, db)
	router := handlers.NewRouter(handlers.Handlers{
		APIKey:      cfg.InternalAPIKey,
		Health:      db,
		BulkSync:    bulkSyncHandler,
		Limits:      handlers.NewLimitsHandler(tracker, db),
		Retransform: handlers.NewRetransformHandler(retransform.New(db)),
		Ingest:      handlers.NewIngestHandler(runner, db),
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // Re-transformation and ingest run inside the request
		IdleTimeout:  120 * time.Second,
	}

	// Start resume worker in background
	workerDone := make(chan struct{})
	if cfg.AutoResume {
		resumer := worker.NewWorker(db, runner, cfg.ResumeInterval, cfg.ResumeConcurrency)
		go func() {
			defer close(workerDone)
			logger.Info("Starting resume worker", "interval", cfg.ResumeInterval)
			if err := resumer.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Resume worker failed", "error", err)
			}
		}()
	} else {
		close(workerDone)
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		go func() {
			logger.Info("Starting sync state collector")
			metrics.StartSyncStateCollector(runCtx, db, 15*time.Second)
		}()

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Start HTTP server in background
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	// Stop the worker and in-flight runs; cancelled runs persist as paused
	runCancel()
	bulkSyncHandler.Wait()
	<-workerDone

	// Shutdown HTTP servers with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}
