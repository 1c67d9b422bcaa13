package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/bootstrap"
	"github.com/bobbercheng/remit-demo-sub001/service/config"
	"github.com/bobbercheng/remit-demo-sub001/service/metrics"
	natspkg "github.com/bobbercheng/remit-demo-sub001/service/nats"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/bobbercheng/remit-demo-sub001/service/server"
	"github.com/bobbercheng/remit-demo-sub001/service/temporal"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"dispatch_mode", cfg.DispatchMode,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize NATS publisher
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Database, counters, locks, providers and the orchestrator
	core, err := bootstrap.New(ctx, cfg, natsPublisher, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to initialize orchestration core", "error", err)
		os.Exit(1)
	}
	defer core.Close()
	orch := core.Orchestrator

	// Dispatch: Temporal workflows, or an in-process worker pool
	var pool *remittance.WorkerPool
	switch cfg.DispatchMode {
	case config.DispatchTemporal:
		temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		orch.SetDispatcher(temporalClient.Dispatcher(cfg.TransferPollInterval, cfg.TransferMaxPolls))
		logger.Info("dispatching transfers to temporal", "task_queue", cfg.TemporalTaskQueue)

	case config.DispatchLocal:
		pool = remittance.NewWorkerPool(orch, cfg.WorkerPoolSize, 0, cfg.LeaseTTL, metricsCollector, logger)
		pool.Start(ctx)
		orch.SetDispatcher(pool)

		// Without Temporal the recovery sweep runs in this process.
		reconciler := remittance.NewReconciler(orch, cfg.ReconcileBatchSize)
		go reconciler.Run(ctx, cfg.ReconcileInterval)
		logger.Info("dispatching transfers to local workers",
			"workers", cfg.WorkerPoolSize,
			"reconcile_interval", cfg.ReconcileInterval,
		)
	}

	// Initialize SSE event stream
	opts := []server.Option{
		server.WithMetrics(metricsCollector),
		server.WithWebhookSecret(cfg.WebhookSecret),
	}
	eventStream, err := server.NewEventStream(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("failed to create event stream, streaming disabled", "error", err)
	} else {
		opts = append(opts, server.WithEventStream(eventStream))
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET not set, provider webhooks are unauthenticated")
	}

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, orch, orch.Quotes(), logger, opts...)

	logger.Info("server initialized, all dependencies ready",
		"providers", core.Router.Providers(),
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
		}

		// Let in-flight transfers finish before cancelling the sweep.
		if pool != nil {
			pool.Stop()
		}
		cancel()

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
