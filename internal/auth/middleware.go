package auth

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"relay-backend/internal/engine"
	"relay-backend/internal/metadata"
)

const bearerPrefix = "Bearer "

// AuthMiddleware validates the bearer token and attaches the UserContext
// to the request, where entity access checks pick it up.
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return engine.UnauthorizedError("Missing bearer token")
		}

		claims, err := ParseAccessToken(token, secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		c.Locals("user", &metadata.UserContext{
			ID:    claims.Subject,
			Roles: claims.Roles,
		})
		return c.Next()
	}
}

func bearerToken(header string) string {
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// RequireRoles allows only callers holding at least one of the given
// roles. Admins pass regardless.
func RequireRoles(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if !user.IsAdmin() && !user.HasAnyRole(roles) {
			return engine.ForbiddenError(fmt.Sprintf("Requires one of: %s", strings.Join(roles, ", ")))
		}
		return c.Next()
	}
}

// RequireAdmin restricts a route group to admins.
func RequireAdmin() fiber.Handler {
	return RequireRoles("admin")
}

// GetUser extracts the UserContext from a Fiber context.
func GetUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
