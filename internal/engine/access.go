package engine

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"relay-backend/internal/metadata"
)

const (
	actionRead  = "read"
	actionWrite = "write"
)

// CheckAccess verifies the caller may perform the action on the entity.
// Entities without an access block are open, as is any action whose role
// list is empty. Admins always pass.
func CheckAccess(user *metadata.UserContext, entity *metadata.Entity, action string) error {
	if entity.Access == nil {
		return nil
	}

	var roles []string
	switch action {
	case actionRead:
		roles = entity.Access.Read
	case actionWrite:
		roles = entity.Access.Write
	}
	if len(roles) == 0 {
		return nil
	}

	if user == nil {
		return UnauthorizedError("Authentication required")
	}
	if user.IsAdmin() || user.HasAnyRole(roles) {
		return nil
	}
	return ForbiddenError(fmt.Sprintf("Role required for %s on %s", action, entity.Name))
}

// requestUser reads the UserContext the auth middleware left on the
// request, or nil for unauthenticated calls.
func requestUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
