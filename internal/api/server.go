// Package api is the fiber HTTP surface of the shortener.
package api

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AdeAdecodes/short/internal/logger"
	"github.com/AdeAdecodes/short/internal/metrics"
	"github.com/AdeAdecodes/short/internal/shortener"
)

// Pinger reports store health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	AppName      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Health       Pinger
}

type handlers struct {
	svc      *shortener.Service
	health   Pinger
	validate *validator.Validate
}

func New(svc *shortener.Service, opts Options) *fiber.App {
	if opts.AppName == "" {
		opts.AppName = "short"
	}
	app := fiber.New(fiber.Config{
		AppName:               opts.AppName,
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(cors.New())
	app.Use(logger.FiberMiddleware())
	app.Use(metricsMiddleware())

	h := &handlers{
		svc:      svc,
		health:   opts.Health,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	app.Get("/", h.welcome)
	app.Get("/healthz", h.healthz)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Post("/encode", h.encode)
	app.Post("/decode", h.decode)
	app.Get("/statistic/:code", h.statistic)
	app.Get("/list", h.list)
	app.Get("/qr/:code", h.qr)
	// Catch-all for short codes; keep it last.
	app.Get("/:code", h.redirect)

	return app
}

func metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		// Route pattern, not the raw path, to keep label cardinality bounded.
		metrics.RecordHTTPRequest(c.Method(), c.Route().Path, status, time.Since(start))
		return err
	}
}
