package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/vizzle/studio/internal/auth"
	"github.com/vizzle/studio/pkg/response"
)

// AuthMiddleware authenticates API and websocket requests
type AuthMiddleware struct {
	auth *auth.Authenticator
}

func NewAuthMiddleware(a *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

// Authenticate validates the bearer token. Browsers cannot set headers on a
// websocket handshake, so upgrades may pass the token as ?token= instead.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !m.auth.Configured() {
			return response.Unauthorized(c, "Authentication not configured")
		}

		token, ok := auth.BearerToken(c.Get("Authorization"))
		if !ok && isUpgrade(c) {
			token = c.Query("token")
			ok = token != ""
		}
		if !ok {
			if c.Get("Authorization") == "" {
				return response.Unauthorized(c, "Missing authorization header")
			}
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		id, err := m.auth.Authenticate(token)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}
		setIdentity(c, id)
		return c.Next()
	}
}

// RequireSelf rejects requests whose path parameter names a different user
func RequireSelf(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Params(param) != GetUserID(c) {
			return response.Forbidden(c, "Cannot access another user's session")
		}
		return c.Next()
	}
}

func isUpgrade(c *fiber.Ctx) bool {
	return strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket")
}

func setIdentity(c *fiber.Ctx, id *auth.Identity) {
	c.Locals("userId", id.UserID)
	c.Locals("email", id.Email)
	c.Locals("name", id.Name)
	c.Locals("roles", id.Roles)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}

// GetUserRoles extracts the identity provider roles from context
func GetUserRoles(c *fiber.Ctx) []string {
	if roles, ok := c.Locals("roles").([]string); ok {
		return roles
	}
	return nil
}
