package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/morningbrief/api/internal/auth"
	"github.com/morningbrief/api/pkg/response"
)

// GatewayAuthMiddleware reads user identity from X-User-* headers
// set by the gateway's ForwardAuth call to /auth/verify.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		setIdentity(c, &auth.Identity{
			UserID:   userID,
			Email:    c.Get("X-User-Email"),
			Name:     c.Get("X-User-Name"),
			Locale:   c.Get("X-User-Locale"),
			Timezone: c.Get("X-User-Timezone"),
			Source:   "gateway",
		})
		return c.Next()
	}
}
