// Package main is the entry point for the threatops pipeline service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"threatops/internal/api"
	"threatops/internal/config"
	"threatops/internal/correlate"
	"threatops/internal/defense"
	"threatops/internal/detect"
	"threatops/internal/intake"
	"threatops/internal/notify"
	"threatops/internal/pipeline"
	"threatops/internal/respond"
	"threatops/internal/schema"
)

func main() {
	// Load configuration first so logging honors the configured level.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"workers", cfg.Pipeline.Workers,
		"queue_size", cfg.Pipeline.QueueSize,
		"redis_suppression", cfg.Correlator.Redis.Enabled,
		"kafka_intake", cfg.Intake.Enabled,
		"auth_enabled", cfg.Auth.Enabled,
	)

	// Core components
	validator := schema.NewValidatorWithConfig(schema.ValidatorConfig{
		MaxAge:    cfg.Validation.MaxEventAge,
		MaxFuture: cfg.Validation.MaxFuture,
	})

	engine := detect.NewEngine(cfg.Detection, logger)

	var suppression correlate.SuppressionStore
	var redisStore *correlate.RedisStore
	if cfg.Correlator.Redis.Enabled {
		redisStore, err = correlate.NewRedisStore(cfg.Correlator.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		suppression = redisStore
		slog.Info("redis suppression store connected", "addr", cfg.Correlator.Redis.Addr)
	} else {
		suppression = correlate.NewMemoryStore()
	}

	correlator := correlate.NewCorrelator(correlate.Config{
		Cooldown:  cfg.Correlator.Cooldown,
		MaxAlerts: cfg.Correlator.MaxAlerts,
	}, suppression, logger)

	defenseStore := defense.NewStore(cfg.Response.ActionLogCapacity, logger)
	orchestrator := respond.NewOrchestrator(defenseStore, cfg.Response, logger)
	notifier := notify.NewNotifier(cfg.Notifier, logger)

	var publisher *intake.Publisher
	if cfg.Intake.Enabled && cfg.Intake.PublishAlerts {
		publisher, err = intake.NewPublisher(cfg.Intake, logger)
		if err != nil {
			slog.Error("failed to create alert publisher", "error", err)
			os.Exit(1)
		}
	}

	metrics := pipeline.NewMetrics(prometheus.DefaultRegisterer)
	notifier.SetFailureCounter(metrics.NotifyFailures)

	deps := pipeline.Deps{
		Engine:       engine,
		Correlator:   correlator,
		Orchestrator: orchestrator,
		Defense:      defenseStore,
		Notifier:     notifier,
		Validator:    validator,
		Metrics:      metrics,
		Logger:       logger,
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	pipe := pipeline.New(cfg.Pipeline, deps)

	ctx, cancel := context.WithCancel(context.Background())
	pipe.Start(ctx)

	// Optional Kafka intake
	var consumer *intake.Consumer
	if cfg.Intake.Enabled {
		consumer, err = intake.NewConsumer(cfg.Intake, pipe, logger)
		if err != nil {
			slog.Error("failed to create kafka consumer", "error", err)
			os.Exit(1)
		}
		consumer.Start(ctx)
	}

	// HTTP server
	handler := api.NewHandler(pipe, correlator, orchestrator, defenseStore, cfg.Server.MaxPayloadSize)
	server := api.NewServer(cfg, handler, logger)

	go func() {
		if err := server.Start(); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	if err := server.Shutdown(cfg.Pipeline.ShutdownWait); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			slog.Error("consumer stop error", "error", err)
		}
	}

	pipe.Stop()
	cancel()

	notifier.Drain(cfg.Notifier.Timeout)

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			slog.Error("publisher close error", "error", err)
		}
	}
	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}

	slog.Info("shutdown complete",
		"engine", engine.Stats(),
		"alerts", correlator.Stats(),
		"actions_logged", defenseStore.TotalLogged(),
	)
}

// newLogger builds the process logger from config. JSON is the default;
// text is for local development.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
