package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/vizzle/studio/internal/auth"
)

// AuthHandler answers Traefik ForwardAuth checks
type AuthHandler struct {
	auth *auth.Authenticator
}

func NewAuthHandler(a *auth.Authenticator) *AuthHandler {
	return &AuthHandler{auth: a}
}

// Verify handles GET /auth/verify.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	token, ok := auth.BearerToken(c.Get("Authorization"))
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	id, err := h.auth.Authenticate(token)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-User-Id", id.UserID)
	c.Set("X-User-Email", id.Email)
	c.Set("X-User-Name", id.Name)
	if len(id.Roles) > 0 {
		c.Set("X-User-Roles", strings.Join(id.Roles, ","))
	}
	return c.SendStatus(fiber.StatusOK)
}
