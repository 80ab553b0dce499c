package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/morningbrief/api/internal/content"
	"github.com/morningbrief/api/internal/model"
	"github.com/morningbrief/api/pkg/response"
)

// Refresher runs a content refresh cycle
type Refresher interface {
	Trigger(ctx context.Context) (*model.RefreshResponse, error)
}

// Cleaner runs the storage cleanup passes
type Cleaner interface {
	Run(ctx context.Context, retention time.Duration, mode model.CleanupMode) (*model.CleanupResponse, error)
}

// Ticker runs one scheduler tick
type Ticker interface {
	Tick(ctx context.Context) (*model.TickResponse, error)
}

// TriggerHandler serves the operational endpoints used by external schedulers
type TriggerHandler struct {
	refresher     Refresher
	cleaner       Cleaner
	ticker        Ticker
	retentionDays int
	refreshWait   time.Duration
	logger        *slog.Logger
}

func NewTriggerHandler(refresher Refresher, cleaner Cleaner, ticker Ticker, retentionDays int, refreshCooldown time.Duration, logger *slog.Logger) *TriggerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerHandler{
		refresher:     refresher,
		cleaner:       cleaner,
		ticker:        ticker,
		retentionDays: retentionDays,
		refreshWait:   refreshCooldown,
		logger:        logger.With("component", "trigger-handler"),
	}
}

// Refresh handles POST /internal/content/refresh
func (h *TriggerHandler) Refresh(c *fiber.Ctx) error {
	result, err := h.refresher.Trigger(c.Context())
	if errors.Is(err, content.ErrCooldown) {
		return response.Cooldown(c, "Content refresh ran recently", h.refreshWait)
	}
	if err != nil {
		h.logger.Error("content refresh failed", "error", err)
		return response.ServiceError(c, "Content refresh failed")
	}
	return response.OK(c, result)
}

// Cleanup handles POST /internal/cleanup?mode=fast|deep|both&retentionDays=N
func (h *TriggerHandler) Cleanup(c *fiber.Ctx) error {
	mode := model.CleanupMode(c.Query("mode", string(model.CleanupBoth)))
	if !mode.Valid() {
		return response.ValidationError(c, "mode must be fast, deep or both", nil)
	}

	days := c.QueryInt("retentionDays", h.retentionDays)
	if days < 1 {
		return response.ValidationError(c, "retentionDays must be at least 1", nil)
	}

	result, err := h.cleaner.Run(c.Context(), time.Duration(days)*24*time.Hour, mode)
	if err != nil {
		h.logger.Error("cleanup failed", "mode", mode, "error", err)
		return response.ServiceError(c, "Cleanup failed")
	}
	return response.OK(c, result)
}

// Tick handles POST /internal/pipeline/tick
func (h *TriggerHandler) Tick(c *fiber.Ctx) error {
	result, err := h.ticker.Tick(c.Context())
	if err != nil {
		h.logger.Error("pipeline tick failed", "error", err)
		return response.ServiceError(c, "Pipeline tick failed")
	}
	return response.OK(c, result)
}
