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

	"github.com/google/uuid"

	"github.com/continualrank/trainer/internal/notify"
	"github.com/continualrank/trainer/internal/registry"
	"github.com/continualrank/trainer/internal/results"
	"github.com/continualrank/trainer/internal/trainer"
	"github.com/continualrank/trainer/pkg/config"
	"github.com/continualrank/trainer/pkg/health"
	"github.com/continualrank/trainer/pkg/logger"
	"github.com/continualrank/trainer/pkg/metrics"
	"github.com/continualrank/trainer/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	runID := uuid.NewString()
	slog.Info("starting training run",
		"run_id", runID,
		"experiment", cfg.Experiment.Name,
		"baseline", cfg.RunType.Baseline,
		"seed", cfg.Seed,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithRunID(ctx, runID)

	var opts []trainer.Option
	checker := health.NewChecker()

	if cfg.Postgres.Enabled() {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		checker.Register("postgres", func(ctx context.Context) error {
			return db.DB.PingContext(ctx)
		})
		opts = append(opts, trainer.WithResults(results.NewStore(db)))
		slog.Info("results store enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	reg, err := registry.New(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, run registry disabled", "error", err)
	} else if reg != nil {
		defer reg.Close()
		checker.Register("redis", reg.Ping)
		opts = append(opts, trainer.WithRegistry(reg))
		slog.Info("run registry enabled", "addr", cfg.Redis.Addr)
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		shutdown := metrics.StartServer(cfg.Metrics.Port, checker)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
		opts = append(opts, trainer.WithMetrics(m))
		slog.Info("metrics server started", "port", cfg.Metrics.Port)
	}

	notifier := notify.New(cfg, runID)
	defer notifier.Close()

	exp := trainer.NewExperiment(cfg, runID, notifier, opts...)
	if err := exp.Execute(ctx); err != nil {
		slog.Error("training run failed", "run_id", runID, "error", err)
		os.Exit(1)
	}
	slog.Info("training run finished", "run_id", runID)
}
