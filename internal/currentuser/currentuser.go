// Package currentuser carries the authenticated user through a request.
// The user is attached to the request context on entry and restored to the
// previous value on exit, so nested handlers always see a consistent value.
package currentuser

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"relay-backend/internal/metadata"
)

type ctxKey struct{}

// With returns a context carrying the given user.
func With(ctx context.Context, user *metadata.UserContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// From returns the user attached to the context, or nil.
func From(ctx context.Context) *metadata.UserContext {
	user, _ := ctx.Value(ctxKey{}).(*metadata.UserContext)
	return user
}

// Middleware copies the authenticated user (set by the auth middleware in
// fiber locals) into the request's user context, restoring the previous
// context when the request finishes.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, _ := c.Locals("user").(*metadata.UserContext)
		if user == nil {
			return c.Next()
		}
		prev := c.UserContext()
		c.SetUserContext(With(prev, user))
		defer c.SetUserContext(prev)
		return c.Next()
	}
}
