package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AdeAdecodes/short/internal/bootstrap"
	"github.com/AdeAdecodes/short/internal/config"
	"github.com/AdeAdecodes/short/internal/logger"
	"github.com/AdeAdecodes/short/internal/queue"
	"github.com/AdeAdecodes/short/internal/supervisor"
)

const serviceName = "analytics-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	service := cfg.Logging.Service
	if service == "" {
		service = serviceName
	}
	log := logger.Init(logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.Output,
		Service: service,
		Env:     cfg.Logging.Env,
		Version: cfg.Logging.Version,
	})

	if err := cfg.ValidateWorker(); err != nil {
		log.Error("Analytics worker cannot start", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Analytics worker stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("Analytics worker stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Warn("Error closing dependencies", "err", err)
		}
	}()

	consumer := queue.NewConsumer(queue.ConsumerOptions{
		URL:      cfg.AMQP.URL,
		Queue:    cfg.AMQP.Queue,
		Prefetch: cfg.AMQP.Prefetch,
	}, deps.Pipeline(cfg.Geo).Handle)

	tree := supervisor.NewTree(serviceName, log, supervisor.TreeConfig{ShutdownTimeout: cfg.WorkerShutdownTimeout()})
	tree.AddTrackingService(consumer)

	log.Info("Analytics Worker started. Waiting for visit events...",
		"queue", cfg.AMQP.Queue,
		"prefetch", cfg.AMQP.Prefetch,
		"store", cfg.Store.Driver(),
		"geo", cfg.Geo.Enabled,
		"shutdown_timeout", cfg.WorkerShutdownTimeout(),
	)

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	return nil
}
