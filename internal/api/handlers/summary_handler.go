package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/citation-etl/backend/internal/analysis"
	"github.com/citation-etl/backend/internal/metrics"
	"github.com/citation-etl/backend/internal/storage/models"
	"github.com/citation-etl/backend/internal/storage/sqlite"
	"github.com/citation-etl/backend/pkg/logger"
)

const summaryCacheTTL = time.Hour

// SummaryCache stores computed reports per run. *redis.Client satisfies it.
type SummaryCache interface {
	GetSummary(ctx context.Context, runID string, summary interface{}) (bool, error)
	SetSummary(ctx context.Context, runID string, summary interface{}, ttl time.Duration) error
}

type SummaryHandler struct {
	store RunStore
	cache SummaryCache
}

// NewSummaryHandler returns a handler; cache may be nil.
func NewSummaryHandler(store RunStore, cache SummaryCache) *SummaryHandler {
	return &SummaryHandler{
		store: store,
		cache: cache,
	}
}

// GetSummary returns the analysis report of the run given by ?run=, or of
// the latest successful run.
func (h *SummaryHandler) GetSummary(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var run *models.PipelineRun
	var err error
	if id := c.Query("run"); id != "" {
		run, err = h.store.GetRun(ctx, id)
	} else {
		run, err = h.store.LatestRun(ctx, models.RunSucceeded)
	}
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No completed run found",
		})
	}
	if err != nil {
		logger.Error("Failed to look up run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to look up run",
		})
	}
	if run.Status != models.RunSucceeded {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":  "Run has not completed successfully",
			"status": run.Status,
		})
	}

	if h.cache != nil {
		var cached analysis.Report
		hit, err := h.cache.GetSummary(ctx, run.ID, &cached)
		if err != nil {
			logger.Warn("Summary cache read failed", zap.String("run_id", run.ID), zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues("summary").Inc()
			return c.JSON(fiber.Map{"run_id": run.ID, "cached": true, "report": cached})
		}
		metrics.CacheMisses.WithLabelValues("summary").Inc()
	}

	citations, err := h.store.LoadCitations(ctx, run.ID)
	if err != nil {
		logger.Error("Failed to load citations", zap.String("run_id", run.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load citations",
		})
	}

	report := analysis.Analyze(citations)

	if h.cache != nil {
		if err := h.cache.SetSummary(ctx, run.ID, report, summaryCacheTTL); err != nil {
			logger.Warn("Summary cache write failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{"run_id": run.ID, "cached": false, "report": report})
}
