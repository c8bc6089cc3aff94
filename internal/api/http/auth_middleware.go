package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/quiz-service/internal/api/http/handlers"
	"github.com/spec-kit/quiz-service/internal/service"
	apperrors "github.com/spec-kit/quiz-service/pkg/util"
)

// AuthMiddleware validates bearer access tokens and loads the current user.
type AuthMiddleware struct {
	tokens *service.TokenService
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *service.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorizedCode("INVALID_TOKEN", "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorizedCode("INVALID_TOKEN", "invalid authorization header")
	}

	user, err := m.tokens.ResolveCurrentUser(c.UserContext(), parts[1])
	if err != nil {
		return handlers.MapAuthError(err)
	}

	c.Locals(handlers.CurrentUserKey, user)
	c.Locals(handlers.CurrentUserIDKey, user.ID)
	return c.Next()
}
