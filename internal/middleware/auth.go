package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/morningbrief/api/internal/auth"
	"github.com/morningbrief/api/pkg/response"
)

const (
	localUserID   = "userId"
	localEmail    = "email"
	localName     = "name"
	localIdentity = "identity"
)

// AuthMiddleware handles bearer token authentication
type AuthMiddleware struct {
	authenticator *auth.Authenticator
}

func NewAuthMiddleware(authenticator *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator}
}

// Authenticate validates the bearer token and stores the caller identity.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := m.authenticator.AuthenticateHeader(c.Get(fiber.HeaderAuthorization))
		switch {
		case errors.Is(err, auth.ErrMissingToken):
			return response.Unauthorized(c, "Missing authorization header")
		case errors.Is(err, auth.ErrMalformedToken):
			return response.Unauthorized(c, "Invalid authorization header format")
		case errors.Is(err, auth.ErrNotConfigured):
			return response.Unauthorized(c, "Authentication not configured")
		case err != nil:
			return response.Unauthorized(c, "Invalid or expired token")
		}

		setIdentity(c, id)
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, id *auth.Identity) {
	c.Locals(localUserID, id.UserID)
	c.Locals(localEmail, id.Email)
	c.Locals(localName, id.Name)
	c.Locals(localIdentity, id)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals(localUserID).(string); ok {
		return userID
	}
	return ""
}

// GetUserName extracts the display name from context
func GetUserName(c *fiber.Ctx) string {
	if name, ok := c.Locals(localName).(string); ok {
		return name
	}
	return ""
}

// GetIdentity returns the full caller identity, or nil.
func GetIdentity(c *fiber.Ctx) *auth.Identity {
	id, _ := c.Locals(localIdentity).(*auth.Identity)
	return id
}
