package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AdeAdecodes/short/internal"
	"github.com/AdeAdecodes/short/internal/api"
	"github.com/AdeAdecodes/short/internal/bootstrap"
	"github.com/AdeAdecodes/short/internal/cache"
	"github.com/AdeAdecodes/short/internal/config"
	"github.com/AdeAdecodes/short/internal/logger"
	"github.com/AdeAdecodes/short/internal/queue"
	"github.com/AdeAdecodes/short/internal/shortener"
	"github.com/AdeAdecodes/short/internal/supervisor"
	"github.com/AdeAdecodes/short/internal/tracker"
)

const serviceName = "api-service"

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("API service stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("API service stopped")
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

	tree := supervisor.NewTree(serviceName, log, supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})

	// Inline mode records visits in this process; amqp mode forwards the
	// events to the analytics worker.
	var handle tracker.Handler
	switch cfg.Tracking.Mode {
	case "amqp":
		pub, err := queue.Dial(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return err
		}
		defer pub.Close()
		handle = pub.Publish
	default:
		handle = deps.Pipeline(cfg.Geo).Handle
	}
	pool := tracker.NewPool(cfg.Tracking.Mode, cfg.Tracking.Workers, cfg.Tracking.QueueSize, cfg.Tracking.DrainTimeout, handle)
	tree.AddTrackingService(pool)

	var links shortener.LinkCache
	if deps.Redis != nil {
		links = cache.NewLinks(deps.Redis, cfg.Redis.LinkTTL)
	}
	svc := shortener.New(deps.Store, shortener.Options{
		BaseURL:     cfg.Server.BaseURL,
		Generate:    internal.NewCodeGenerator(cfg.Codes.Length),
		MaxAttempts: cfg.Codes.MaxAttempts,
		Cache:       links,
		Sink:        pool,
	})

	app := api.New(svc, api.Options{
		AppName:      serviceName,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Health:       deps.Store,
	})
	tree.AddAPIService(supervisor.NewHTTPService(app, cfg.Server.Addr(), cfg.Server.ShutdownTimeout))

	log.Info("Starting API Service",
		"addr", cfg.Server.Addr(),
		"base_url", cfg.Server.BaseURL,
		"store", cfg.Store.Driver(),
		"tracking", cfg.Tracking.Mode,
		"link_cache", deps.Redis != nil,
		"geo", cfg.Geo.Enabled,
	)

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	return nil
}
