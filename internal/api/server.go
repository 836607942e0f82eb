// Package api assembles the HTTP surface over pipeline runs, their analysis
// and the code mapper.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/citation-etl/backend/internal/api/handlers"
	"github.com/citation-etl/backend/internal/codes"
	"github.com/citation-etl/backend/internal/metrics"
	"github.com/citation-etl/backend/internal/middleware/ratelimit"
	"github.com/citation-etl/backend/internal/middleware/security"
	"github.com/citation-etl/backend/internal/middleware/validation"
	"github.com/citation-etl/backend/pkg/logger"
)

type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit   int
	Development bool
}

type Deps struct {
	Runner handlers.Runner
	Store  handlers.RunStore
	// Cache is optional.
	Cache  handlers.SummaryCache
	Mapper *codes.Mapper
	// Ready lists the dependencies probed by /ready.
	Ready map[string]handlers.Pinger
}

// NewApp wires routes and middleware. Runs started over HTTP execute under
// ctx, so cancelling it stops them.
func NewApp(ctx context.Context, cfg Config, deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestLogger())
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: cfg.Development}))

	app.Get("/metrics", metrics.MetricsHandler())

	healthHandler := handlers.NewHealthHandler(deps.Ready)
	runHandler := handlers.NewRunHandler(ctx, deps.Runner, deps.Store)
	summaryHandler := handlers.NewSummaryHandler(deps.Store, deps.Cache)
	codeHandler := handlers.NewCodeHandler(deps.Mapper)

	api := app.Group("/api/v1")

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	if cfg.RateLimit > 0 {
		limiter := ratelimit.New(ratelimit.Config{RequestsPerMinute: cfg.RateLimit})
		api.Use(limiter.Middleware())
	}
	api.Use(validation.Middleware(validation.Config{}))

	api.Post("/runs", runHandler.StartRun)
	api.Get("/runs", runHandler.ListRuns)
	api.Get("/runs/:id", runHandler.GetRun)
	api.Get("/runs/:id/unmatched", runHandler.GetUnmatchedCodes)

	api.Get("/summary", summaryHandler.GetSummary)

	api.Get("/codes/resolve", codeHandler.Resolve)

	return app
}

func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug("Request handled",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
		)
		return err
	}
}
