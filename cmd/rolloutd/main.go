// Command rolloutd runs the progressive deployment server.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrawlsbenches/rollout/api"
	"github.com/scrawlsbenches/rollout/applier"
	"github.com/scrawlsbenches/rollout/config"
	"github.com/scrawlsbenches/rollout/engine"
	"github.com/scrawlsbenches/rollout/history"
	"github.com/scrawlsbenches/rollout/metric"
	"github.com/scrawlsbenches/rollout/observability"
	"github.com/scrawlsbenches/rollout/rollback"
	"github.com/scrawlsbenches/rollout/target"
)

var (
	configFile = flag.String("config", "", "Path to configuration YAML file")
	addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		logger.Info("no config file specified, using defaults")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open history store: %v", err)
	}
	defer store.Close()

	targets := target.NewSet()
	for _, t := range cfg.Targets {
		targets.Add(t)
	}
	logger.Info("target registry seeded", "targets", len(cfg.Targets))

	httpApplier := applier.NewHTTPApplier(cfg.Applier, logger)
	defer httpApplier.Close()

	source := metric.NewAgentSource(targets, cfg.Applier.CallTimeout, logger)
	defer source.Close()

	collector := observability.NewCollector("rollout")
	gate := engine.NewMemoryGate()

	orch := engine.NewOrchestrator(cfg.Engine, engine.Deps{
		Targets:    targets,
		Applier:    httpApplier,
		Metrics:    source,
		Comparator: metric.NewComparator(cfg.Thresholds, logger),
		Weights:    cfg.ScoreWeights,
		Rollback:   rollback.NewController(httpApplier, cfg.Rollback, logger),
		Store:      store,
		Collector:  collector,
		Gate:       gate,
		Logger:     logger,
	})

	handler := api.NewHandler(orch, targets, gate, logger)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(handler, collector.Handler()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := orch.Shutdown(ctx); err != nil {
		logger.Error("orchestrator shutdown", "error", err)
	}
	logger.Info("shutdown complete")
}

func openStore(cfg *config.Config) (history.Store, error) {
	if cfg.History.Driver == "sqlite" {
		return history.OpenSQLite(cfg.History.DSN)
	}
	return history.NewMemoryStore(), nil
}
