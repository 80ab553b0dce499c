package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/morningbrief/api/internal/store"
)

// HealthInfo lists what the process was started with
type HealthInfo struct {
	ScriptWriter    bool
	SpeechProviders []string
	Storage         string
	AuthMethods     []string
}

type HealthHandler struct {
	store *store.Store
	redis *redis.Client
	info  HealthInfo
}

func NewHealthHandler(st *store.Store, redisClient *redis.Client, info HealthInfo) *HealthHandler {
	return &HealthHandler{store: st, redis: redisClient, info: info}
}

// Check handles GET /health. Degraded dependencies return 503.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	dbOK := h.store.Ping(ctx) == nil
	redisOK := h.redis != nil && h.redis.Ping(ctx).Err() == nil

	status, code := "ok", fiber.StatusOK
	if !dbOK || !redisOK {
		status, code = "degraded", fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"services": fiber.Map{
			"database":        dbOK,
			"redis":           redisOK,
			"scriptWriter":    h.info.ScriptWriter,
			"speechProviders": h.info.SpeechProviders,
			"storage":         h.info.Storage,
			"auth":            h.info.AuthMethods,
		},
	})
}
