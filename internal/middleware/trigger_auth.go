package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/morningbrief/api/pkg/response"
)

// TriggerHeader carries the shared secret of the operational trigger endpoints.
const TriggerHeader = "X-Trigger-Token"

// TriggerAuth guards trigger endpoints with a shared token. The token is read
// from X-Trigger-Token or a bearer Authorization header. An empty token
// leaves the endpoints open, which config validation forbids in production.
func TriggerAuth(token string) fiber.Handler {
	expected := []byte(token)
	return func(c *fiber.Ctx) error {
		if len(expected) == 0 {
			return c.Next()
		}

		got := c.Get(TriggerHeader)
		if got == "" {
			if h := c.Get(fiber.HeaderAuthorization); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
				got = strings.TrimSpace(h[7:])
			}
		}
		if got == "" {
			return response.Unauthorized(c, "Missing trigger token")
		}
		if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			return response.Forbidden(c, "Invalid trigger token")
		}
		return c.Next()
	}
}
