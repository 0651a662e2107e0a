package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/vizzle/studio/internal/auth"
	"github.com/vizzle/studio/pkg/response"
)

// GatewayAuthMiddleware reads the identity forwarded by Traefik ForwardAuth in
// X-User-* headers.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		var roles []string
		if raw := c.Get("X-User-Roles"); raw != "" {
			for _, r := range strings.Split(raw, ",") {
				if r = strings.TrimSpace(r); r != "" {
					roles = append(roles, r)
				}
			}
		}

		setIdentity(c, &auth.Identity{
			UserID: userID,
			Email:  c.Get("X-User-Email"),
			Name:   c.Get("X-User-Name"),
			Roles:  roles,
		})
		return c.Next()
	}
}
