package handler

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/morningbrief/api/internal/middleware"
	"github.com/morningbrief/api/internal/model"
	"github.com/morningbrief/api/internal/service"
	ws "github.com/morningbrief/api/internal/websocket"
	"github.com/morningbrief/api/pkg/response"
)

type BriefingHandler struct {
	service   *service.BriefingService
	hub       *ws.Hub
	validator *validator.Validate
	logger    *slog.Logger
}

func NewBriefingHandler(svc *service.BriefingService, hub *ws.Hub, v *validator.Validate, logger *slog.Logger) *BriefingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BriefingHandler{
		service:   svc,
		hub:       hub,
		validator: v,
		logger:    logger.With("component", "briefing-handler"),
	}
}

// Create handles POST /api/briefings
func (h *BriefingHandler) Create(c *fiber.Ctx) error {
	var req model.CreateBriefingRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	// Fill gaps from the caller's identity claims
	if id := middleware.GetIdentity(c); id != nil {
		if req.DisplayName == "" {
			req.DisplayName = id.Name
		}
		if req.Timezone == "" {
			req.Timezone = id.Timezone
		}
		if req.Locale == "" {
			req.Locale = id.Locale
		}
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Create(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		if errors.Is(err, service.ErrPlaybackTooLate) {
			return response.PlaybackPassed(c, "Playback time has already passed")
		}
		h.logger.Error("create briefing failed", "user_id", middleware.GetUserID(c), "error", err)
		return response.ServiceError(c, "Failed to queue briefing")
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/briefings/:jobId
func (h *BriefingHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Status(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		return h.jobError(c, jobID, err)
	}
	return response.OK(c, result)
}

// Segment handles GET /api/briefings/:jobId/segments/:index
func (h *BriefingHandler) Segment(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	index, err := strconv.Atoi(c.Params("index"))
	if jobID == "" || err != nil || index < 0 {
		return response.ValidationError(c, "Job ID and a non-negative segment index are required", nil)
	}

	result, err := h.service.Segment(c.Context(), middleware.GetUserID(c), jobID, index)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotSegmented):
			return response.NotFound(c, "Briefing is not segmented")
		case errors.Is(err, service.ErrSegmentNotFound):
			return response.NotFound(c, "Segment not found")
		}
		return h.jobError(c, jobID, err)
	}
	return response.OK(c, result)
}

// Upgrade checks ownership before GET /ws/briefings/:jobId is upgraded and
// stashes the current status as the first message.
func (h *BriefingHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	jobID := c.Params("jobId")
	status, err := h.service.Status(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		return h.jobError(c, jobID, err)
	}
	c.Locals("initialStatus", model.WSStatusMessage{
		Type:          model.WSMessageTypeStatus,
		JobID:         status.JobID,
		Status:        status.Status,
		SegmentsReady: status.SegmentsReady,
		SegmentCount:  status.SegmentCount,
	})
	return c.Next()
}

// Stream serves the websocket status stream
func (h *BriefingHandler) Stream() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		h.hub.HandleConnection(c, c.Params("jobId"), c.Locals("initialStatus"))
	})
}

func (h *BriefingHandler) jobError(c *fiber.Ctx, jobID string, err error) error {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrForbidden):
		return response.Forbidden(c, "Job belongs to another user")
	}
	h.logger.Error("briefing lookup failed", "job_id", jobID, "error", err)
	return response.ServiceError(c, "Failed to load briefing")
}
