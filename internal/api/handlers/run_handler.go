package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/citation-etl/backend/internal/dataset"
	"github.com/citation-etl/backend/internal/pipeline"
	"github.com/citation-etl/backend/internal/storage/models"
	"github.com/citation-etl/backend/internal/storage/sqlite"
	"github.com/citation-etl/backend/pkg/logger"
)

const defaultListLimit = 20

// RunStore is the read side of run persistence. *sqlite.Client satisfies it.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*models.PipelineRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.PipelineRun, error)
	LatestRun(ctx context.Context, status models.RunStatus) (*models.PipelineRun, error)
	LoadCitations(ctx context.Context, runID string) ([]dataset.Citation, error)
	UnmatchedCodes(ctx context.Context, runID string) ([]string, error)
	Ping(ctx context.Context) error
}

// Runner starts pipeline runs. *pipeline.Pipeline satisfies it.
type Runner interface {
	Start() (string, error)
	Execute(ctx context.Context, runID string) (*pipeline.Report, error)
	Running() string
}

type RunHandler struct {
	runner Runner
	store  RunStore
	// runs execute under baseCtx rather than the request context
	baseCtx context.Context
	// done receives each background run's error; nil outside tests
	done chan<- error
}

func NewRunHandler(baseCtx context.Context, runner Runner, store RunStore) *RunHandler {
	return &RunHandler{
		runner:  runner,
		store:   store,
		baseCtx: baseCtx,
	}
}

func (h *RunHandler) StartRun(c *fiber.Ctx) error {
	runID, err := h.runner.Start()
	if errors.Is(err, pipeline.ErrRunInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":  "A pipeline run is already in progress",
			"run_id": h.runner.Running(),
		})
	}
	if err != nil {
		logger.Error("Failed to start pipeline run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start pipeline run",
		})
	}

	go func() {
		_, err := h.runner.Execute(h.baseCtx, runID)
		if err != nil {
			logger.Warn("Background pipeline run failed", zap.String("run_id", runID), zap.Error(err))
		}
		if h.done != nil {
			h.done <- err
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"run_id": runID,
		"status": models.RunRunning,
	})
}

func (h *RunHandler) ListRuns(c *fiber.Ctx) error {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = n
	}

	runs, err := h.store.ListRuns(c.UserContext(), limit)
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}

	return c.JSON(fiber.Map{
		"runs":    runs,
		"running": h.runner.Running(),
	})
}

func (h *RunHandler) GetRun(c *fiber.Ctx) error {
	run, err := h.store.GetRun(c.UserContext(), c.Params("id"))
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Run not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get run", zap.String("run_id", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get run",
		})
	}

	return c.JSON(run)
}

func (h *RunHandler) GetUnmatchedCodes(c *fiber.Ctx) error {
	runID := c.Params("id")
	if _, err := h.store.GetRun(c.UserContext(), runID); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Run not found",
			})
		}
		logger.Error("Failed to get run", zap.String("run_id", runID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get run",
		})
	}

	codes, err := h.store.UnmatchedCodes(c.UserContext(), runID)
	if err != nil {
		logger.Error("Failed to get unmatched codes", zap.String("run_id", runID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get unmatched codes",
		})
	}

	return c.JSON(fiber.Map{
		"run_id": runID,
		"codes":  codes,
	})
}
