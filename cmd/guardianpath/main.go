package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guardianpath/internal/alerts"
	"guardianpath/internal/api"
	"guardianpath/internal/behavior"
	"guardianpath/internal/config"
	"guardianpath/internal/ingest"
	"guardianpath/internal/logging"
	"guardianpath/internal/metrics"
	"guardianpath/internal/model"
	"guardianpath/internal/monitor"
	"guardianpath/internal/registry"
	"guardianpath/internal/simulate"
	"guardianpath/internal/storage"
	"guardianpath/internal/travel"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "guardianpath.yaml", "path to YAML or JSON config")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		return
	}

	manager, err := config.OpenManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	logger.Info("guardianpath starting", "version", version, "config", manager.Path())

	if err := run(manager, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(manager *config.Manager, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg := manager.Get()

	reg, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	logger.Info("registry loaded", "locations", len(reg.Locations()), "identities", len(reg.Identities()))

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	analyzer, err := travel.NewAnalyzer(reg, cfg.Detection, logger)
	if err != nil {
		return err
	}
	settings, err := behavior.NewSettings(cfg.Behavior, cfg.Detection)
	if err != nil {
		return err
	}
	engine := behavior.NewEngine(reg, analyzer, settings, logger)

	processor := alerts.NewProcessor(cfg.Alerts.Capacity, logger)
	processor.SetThresholds(cfg.Detection.HighRiskScoreThreshold, cfg.Detection.MediumRiskScoreThreshold)
	feed, err := alerts.NewFeed(cfg.Alerts.Feed, reg, nil)
	if err != nil {
		return err
	}
	processor.AttachFeed(feed)
	restoreAlerts(ctx, store, processor, cfg.Alerts.Capacity, logger)

	identityMetrics := metrics.NewStore(0)
	mon := monitor.New(cfg, reg, analyzer, engine, processor, identityMetrics, store, logger)
	mon.SetGenerator(simulate.New(reg, nil, settings.Location()))

	if err := processor.Connect(ctx); err != nil {
		return fmt.Errorf("connect alert stream: %w", err)
	}
	defer processor.Close()

	events := make(chan model.AccessEvent, cfg.Ingest.ChannelBuffer)
	sink := &ingest.Sink{Config: manager, Resolver: reg, Out: events, Logger: logger}
	ingest.StartREST(ctx, sink)
	ingest.StartFileTail(ctx, sink)
	ingest.StartKafka(ctx, sink, ingest.NewParser())
	ingest.StartRedis(ctx, sink, ingest.NewParser())
	ingest.StartSyslog(ctx, sink, ingest.NewParser())
	ingest.StartTCP(ctx, sink)

	mon.Start(ctx, events)
	api.Start(ctx, api.NewServer(manager, mon, processor, identityMetrics, reg, logger, version))

	go manager.Watch(3*time.Second, func(next *config.Config) {
		if err := mon.UpdateConfig(next); err != nil {
			logger.Warn("config reload rejected", "err", err)
			return
		}
		logger.Info("config reloaded", "path", manager.Path())
	}, func(err error) {
		logger.Warn("config watch error", "err", err)
	}, ctx.Done())

	<-ctx.Done()
	logger.Info("shutting down")
	processor.Close()
	mon.Wait()
	return nil
}

// restoreAlerts replays persisted alerts oldest-first so the buffer comes
// back in its original order. Restored entries start unread.
func restoreAlerts(ctx context.Context, store storage.Store, processor *alerts.Processor, limit int, logger *slog.Logger) {
	if store == nil {
		return
	}
	recent, err := store.RecentAlerts(ctx, limit)
	if err != nil {
		logger.Warn("restore alerts failed", "err", err)
		return
	}
	for i := len(recent) - 1; i >= 0; i-- {
		processor.Ingest(recent[i])
	}
	if len(recent) > 0 {
		logger.Info("alerts restored", "count", len(recent))
	}
}
