package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/morningbrief/api/internal/auth"
)

// AuthHandler handles ForwardAuth verification for the API gateway
type AuthHandler struct {
	authenticator *auth.Authenticator
}

func NewAuthHandler(authenticator *auth.Authenticator) *AuthHandler {
	return &AuthHandler{authenticator: authenticator}
}

// Verify handles GET /auth/verify, called by the gateway's ForwardAuth.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	id, err := h.authenticator.AuthenticateHeader(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-User-Id", id.UserID)
	c.Set("X-User-Email", id.Email)
	c.Set("X-User-Name", id.Name)
	if id.Locale != "" {
		c.Set("X-User-Locale", id.Locale)
	}
	if id.Timezone != "" {
		c.Set("X-User-Timezone", id.Timezone)
	}
	return c.SendStatus(fiber.StatusOK)
}
