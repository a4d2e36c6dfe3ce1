package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"availability-watcher/config"
	"availability-watcher/pipeline"
	"availability-watcher/storage"
	"availability-watcher/utils"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		utils.NewLogger().Error("Invalid configuration: %v", err)
		return 2
	}

	logger := utils.NewLoggerTo(os.Stderr, cfg.LogLevel)
	logger.Info("=== Availability watcher starting ===")
	logger.Info("Config: watch %s | output %s | snapshot %s | resort every %v | workers %d | queue %d",
		cfg.WatchDir, cfg.OutputPath, cfg.SnapshotPath, cfg.ResortInterval, cfg.MaxConcurrency, cfg.QueueSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coordinator, err := pipeline.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to set up pipeline: %v", err)
		return 1
	}

	if cfg.PostgresDSN != "" {
		attachMirror(ctx, coordinator, logger, cfg.PostgresDSN, connectPostgres)
	}

	if err := coordinator.Run(ctx); err != nil {
		logger.Error("Pipeline failed: %v", err)
		return 1
	}

	s := coordinator.Stats()
	logger.Info("Done. %d unique records in %s (%d duplicates rejected, %d malformed artifacts)",
		s.Admitted, cfg.OutputPath, s.Duplicates, s.FilesFailed)
	return 0
}

type mirrorConnector func(ctx context.Context, dsn string) (storage.RecordSink, error)

func connectPostgres(ctx context.Context, dsn string) (storage.RecordSink, error) {
	mirror, err := storage.NewPostgresMirror(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return mirror, nil
}

// attachMirror connects the optional SQL mirror. The CSV output is the
// source of truth, so an unreachable database only disables mirroring.
func attachMirror(ctx context.Context, c *pipeline.Coordinator, logger *utils.Logger, dsn string, connect mirrorConnector) bool {
	mirror, err := connect(ctx, dsn)
	if err != nil {
		logger.Warn("PostgreSQL mirror unavailable, continuing without it: %v", err)
		return false
	}
	c.SetMirror(mirror)
	logger.Info("Mirroring admitted records to PostgreSQL (table: availability)")
	return true
}
