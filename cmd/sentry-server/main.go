// Package main is the entry point for the ChainSentry detection service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"chainsentry/internal/analyzer"
	"chainsentry/internal/api"
	"chainsentry/internal/config"
	"chainsentry/internal/consumer"
	"chainsentry/internal/detect/anomaly"
	"chainsentry/internal/detect/classifier"
	"chainsentry/internal/detect/intel"
	"chainsentry/internal/fetcher"
	"chainsentry/internal/knownbad"
	"chainsentry/internal/model"
	"chainsentry/internal/queue"
	"chainsentry/internal/storage"
	"chainsentry/internal/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"queue_size", cfg.Queue.Size,
		"auth_enabled", cfg.Auth.Enabled,
		"storage_enabled", cfg.Storage.ClickHouse.Enabled,
		"stream_enabled", cfg.Stream.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Model bundle: fetch from S3 when configured, then load. A missing
	// bundle degrades the ML detectors unless models are required; a
	// version mismatch is always fatal.
	if cfg.Models.S3.Enabled {
		if err := model.FetchBundle(ctx, cfg.Models.S3, cfg.Models.Dir); err != nil {
			if cfg.Models.Required {
				slog.Error("model bundle fetch failed", "error", err)
				os.Exit(1)
			}
			slog.Warn("model bundle fetch failed, continuing without", "error", err)
		}
	}

	anomalyDet := anomaly.New(nil, nil)
	cls := classifier.New(nil, nil, nil)

	bundle, err := model.Load(cfg.Models.Dir)
	switch {
	case err == nil:
		defer bundle.Close()
		anomalyDet = anomaly.New(bundle.Anomaly, bundle.Scaler)
		cls = classifier.New(bundle.Classifier, bundle.Scaler, bundle.Labels)
	case errors.Is(err, model.ErrVersionMismatch):
		slog.Error("model bundle rejected", "error", err)
		os.Exit(1)
	case cfg.Models.Required:
		slog.Error("model bundle load failed", "error", err)
		os.Exit(1)
	default:
		slog.Warn("running without ML models", "error", err)
	}

	// Known-bad set with optional Redis warm start.
	store := knownbad.NewStore()
	var rdb *redis.Client
	if cfg.KnownBad.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.KnownBad.RedisAddr})
	}
	var refresher *knownbad.Refresher
	if len(cfg.KnownBad.Refresher.FeedURLs) > 0 || rdb != nil {
		refresher = knownbad.NewRefresher(store, cfg.KnownBad.Refresher, rdb)
		refresher.Start(ctx)
	}

	// Threat intel sources, all optional.
	var lookup *intel.Lookup
	if sources := cfg.Intel.Sources(); len(sources) > 0 {
		lookup = intel.NewLookup(cfg.Intel.Lookup, sources...)
	}

	var explorer analyzer.Fetcher
	if cfg.Fetcher.Enabled {
		client, err := fetcher.NewClient(cfg.Fetcher)
		if err != nil {
			slog.Error("fetcher init failed", "error", err)
			os.Exit(1)
		}
		explorer = client
	}

	service := analyzer.NewService(logger, store, anomalyDet, cls, lookup, explorer)

	verdicts := queue.NewRingBuffer(cfg.Queue.Size)

	// Verdict persistence. Without ClickHouse verdicts are drained and
	// discarded so the queue never backs up.
	var chClient *storage.ClickHouseClient
	var batchWriter *storage.BatchWriter
	var sink consumer.Sink = consumer.DiscardSink{}
	if cfg.Storage.ClickHouse.Enabled {
		chClient, err = storage.NewClickHouseClient(cfg.Storage.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}

		slog.Info("running database migrations")
		if err := storage.NewMigrator(chClient).Run(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		batchWriter = storage.NewBatchWriter(chClient, cfg.Storage.BatchWriter)
		sink = batchWriter
	}

	queueConsumer := consumer.New(verdicts, sink, cfg.Consumer)
	queueConsumer.Start(ctx)

	// Kafka intake and alerting.
	var alertProducer *stream.AlertProducer
	var txConsumer *stream.Consumer
	var pipeline *stream.Pipeline
	if cfg.Stream.Enabled {
		alertProducer = stream.NewAlertProducer(cfg.Stream)
		pipeline = stream.NewPipeline(service, verdicts, alertProducer, cfg.Stream.AlertThreshold)

		txConsumer, err = stream.NewConsumer(cfg.Stream, pipeline.Handle)
		if err != nil {
			slog.Error("stream consumer init failed", "error", err)
			os.Exit(1)
		}
		if err := txConsumer.Start(); err != nil {
			slog.Error("stream consumer start failed", "error", err)
			os.Exit(1)
		}
	}

	stats := api.StatsSources{Queue: verdicts.Metrics, Consumer: queueConsumer.Metrics}
	if batchWriter != nil {
		stats.Writer = batchWriter.Metrics
	}
	if lookup != nil {
		stats.Intel = lookup.Stats
	}
	if txConsumer != nil {
		stats.Stream = txConsumer.Stats
	}
	if alertProducer != nil {
		stats.Alerts = alertProducer.Stats
	}

	handler := api.NewHandler(service, stats)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      api.WithMiddleware(handler.Routes(), cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting detection server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if txConsumer != nil {
		if err := txConsumer.Stop(); err != nil {
			slog.Error("stream consumer stop error", "error", err)
		}
	}
	if alertProducer != nil {
		if err := alertProducer.Close(); err != nil {
			slog.Error("alert producer close error", "error", err)
		}
	}

	cancel()
	queueConsumer.Stop()

	if batchWriter != nil {
		if err := batchWriter.Close(); err != nil {
			slog.Error("batch writer close error", "error", err)
		}
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}

	if refresher != nil {
		refresher.Stop()
	}
	if rdb != nil {
		rdb.Close()
	}

	verdicts.Close()

	m := verdicts.Metrics()
	slog.Info("shutdown complete",
		"verdicts_pushed", m.Pushed,
		"verdicts_popped", m.Popped,
		"verdicts_dropped", m.Dropped,
	)
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
