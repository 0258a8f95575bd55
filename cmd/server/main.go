package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/defi-guard/dashboard-aggregator/internal/aggregator"
	"github.com/defi-guard/dashboard-aggregator/internal/cache"
	"github.com/defi-guard/dashboard-aggregator/internal/client"
	"github.com/defi-guard/dashboard-aggregator/internal/config"
	"github.com/defi-guard/dashboard-aggregator/internal/events"
	"github.com/defi-guard/dashboard-aggregator/internal/handlers"
	"github.com/defi-guard/dashboard-aggregator/internal/metrics"
	"github.com/defi-guard/dashboard-aggregator/internal/realtime"
	"github.com/defi-guard/dashboard-aggregator/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting dashboard aggregator",
		"addr", cfg.Server.Addr(),
		"cache_backend", cfg.Cache.Backend,
		"kafka_enabled", cfg.Kafka.Enabled)

	var store cache.Store
	if cfg.Cache.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		store = cache.NewRedisStore(rdb, cfg.Cache.Redis.KeyPrefix)
	} else {
		store = cache.NewMemoryStore()
	}
	snapshots := cache.New(store, cfg.Cache.TTL, logger)

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	threatIntel := client.NewThreatIntelClient(client.Config{
		BaseURL: cfg.Services.ThreatIntel.BaseURL,
		Timeout: cfg.Services.ThreatIntel.Timeout,
	}, logger)
	stablecoin := client.NewStablecoinClient(client.Config{
		BaseURL: cfg.Services.Stablecoin.BaseURL,
		Timeout: cfg.Services.Stablecoin.Timeout,
	}, logger)
	screening := client.NewScreeningClient(client.Config{
		BaseURL: cfg.Services.Screening.BaseURL,
		Timeout: cfg.Services.Screening.Timeout,
	}, logger)
	defiRisk := client.NewDeFiRiskClient(client.Config{
		BaseURL: cfg.Services.DeFiRisk.BaseURL,
		Timeout: cfg.Services.DeFiRisk.Timeout,
	}, logger)
	osint := client.NewOSINTClient(client.Config{
		BaseURL: cfg.Services.OSINT.BaseURL,
		Timeout: cfg.Services.OSINT.Timeout,
	}, logger)

	var publisher aggregator.AlertPublisher
	var kafkaPublisher *events.Publisher
	if cfg.Kafka.Enabled {
		kafkaPublisher, err = events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.ClientID, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Error("kafka publisher unavailable, continuing without event publishing", "error", err)
		} else {
			publisher = kafkaPublisher
		}
	}

	hub := realtime.NewHub(collector, logger)
	go hub.Run()

	controller := aggregator.New(threatIntel, stablecoin, defiRisk, publisher, snapshots, collector, logger, aggregator.Options{
		RefreshInterval:        cfg.Aggregator.RefreshInterval,
		ThreatIntelLimit:       cfg.Aggregator.ThreatIntelLimit,
		AlertDisplayLimit:      cfg.Aggregator.AlertDisplayLimit,
		PollInterval:           cfg.Aggregator.PollInterval,
		PollMaxAttempts:        cfg.Aggregator.PollMaxAttempts,
		FreshScrapeMinInterval: cfg.Aggregator.FreshScrapeMinInterval,
	})
	controller.SetOnUpdate(func(vm aggregator.ViewModel) {
		hub.BroadcastData(vm)
	})
	controller.SetOnAlert(hub.BroadcastAlerts)

	server := handlers.NewServer(controller, screening, defiRisk, osint, hub, collector, logger)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Router(promhttp.Handler()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go controller.Start(ctx)

	cron := scheduler.NewRunner(logger)
	if spec := cfg.Aggregator.FullRefreshCron; spec != "" {
		err := cron.Add("forced-threat-intel-scrape", spec, func() {
			if _, err := controller.RefreshThreatIntel(context.Background(), true); err != nil {
				logger.Warn("scheduled fresh scrape failed", "error", err)
			}
		})
		if err != nil {
			logger.Error("invalid refresh cron spec", "spec", spec, "error", err)
		}
	}
	cron.Start()

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cron.Stop()
	controller.Stop()
	hub.Stop()
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Warn("kafka publisher close failed", "error", err)
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	logger.Info("dashboard aggregator stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
