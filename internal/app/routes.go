package app

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/morningbrief/api/internal/handler"
	"github.com/morningbrief/api/internal/middleware"
	"github.com/morningbrief/api/pkg/response"
)

// NewFiber creates the HTTP app with every route registered.
func (a *App) NewFiber() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(a.Config.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(logger.New(logger.Config{Format: logFormat}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	a.Register(app)
	return app
}

// Register mounts the routes on app.
func (a *App) Register(app *fiber.App) {
	validate := validator.New()
	cfg := a.Config

	briefingHandler := handler.NewBriefingHandler(a.Briefings, a.Hub, validate, a.Logger)
	triggerHandler := handler.NewTriggerHandler(a.Refresher, a.Cleanup, a.Scheduler, cfg.Cleanup.RetentionDays, cfg.Content.RefreshCooldown, a.Logger)
	authHandler := handler.NewAuthHandler(a.Auth)
	healthHandler := handler.NewHealthHandler(a.Store, a.Redis, a.Health)

	var apiAuth fiber.Handler
	if cfg.Gateway.Enabled {
		a.Logger.Info("gateway mode enabled, using header-based auth")
		apiAuth = middleware.GatewayAuthMiddleware()
	} else {
		apiAuth = middleware.NewAuthMiddleware(a.Auth).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(a.Redis, a.Logger)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})
	app.Get("/health", healthHandler.Check)
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", apiAuth)
	briefings := api.Group("/briefings")
	briefings.Post("/", rateLimiter.BriefingLimit(cfg.RateLimit.BriefingsPerHour), briefingHandler.Create)
	briefings.Get("/:jobId", briefingHandler.Status)
	briefings.Get("/:jobId/segments/:index", briefingHandler.Segment)

	// Browsers cannot set headers on websocket requests, so the token may
	// arrive as a query parameter.
	app.Get("/ws/briefings/:jobId", tokenFromQuery, apiAuth, briefingHandler.Upgrade, briefingHandler.Stream())

	internal := app.Group("/internal",
		middleware.TriggerAuth(cfg.Triggers.Token),
		rateLimiter.TriggerLimit(cfg.RateLimit.TriggersPerMin),
	)
	internal.Post("/content/refresh", triggerHandler.Refresh)
	internal.Post("/cleanup", triggerHandler.Cleanup)
	internal.Post("/pipeline/tick", triggerHandler.Tick)
}

func tokenFromQuery(c *fiber.Ctx) error {
	if c.Get(fiber.HeaderAuthorization) == "" {
		if token := c.Query("token"); token != "" {
			c.Request().Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
		}
	}
	return c.Next()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusBadRequest, fiber.StatusUpgradeRequired, fiber.StatusRequestEntityTooLarge:
		errCode = response.CodeValidationError
	}
	return response.Error(c, code, errCode, message, nil)
}
