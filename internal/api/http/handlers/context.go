package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/quiz-service/internal/domain"
)

// Request-local keys set by the auth middleware.
const (
	CurrentUserKey   = "auth_user"
	CurrentUserIDKey = "auth_user_id"
)

// CurrentUser retrieves the authenticated account from the request context.
func CurrentUser(c *fiber.Ctx) (*domain.User, bool) {
	val := c.Locals(CurrentUserKey)
	if val == nil {
		return nil, false
	}
	user, ok := val.(*domain.User)
	return user, ok
}

// CurrentUserID retrieves the authenticated account id, empty when the
// request is anonymous.
func CurrentUserID(c *fiber.Ctx) string {
	if id, ok := c.Locals(CurrentUserIDKey).(string); ok {
		return id
	}
	return ""
}
