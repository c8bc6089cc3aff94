package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/quiz-service/internal/api/dto"
	"github.com/spec-kit/quiz-service/internal/domain"
	"github.com/spec-kit/quiz-service/internal/service"
	apperrors "github.com/spec-kit/quiz-service/pkg/util"
)

// AuthHandler exposes the token lifecycle endpoints.
type AuthHandler struct {
	tokens *service.TokenService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(tokens *service.TokenService) *AuthHandler {
	return &AuthHandler{tokens: tokens}
}

// MapAuthError converts token service errors into transport errors. Auth
// rejections become 401s with a machine-readable code; everything else is an
// infrastructure failure and becomes a 503 so clients never mistake a down
// database for bad credentials. A missing record is reported as INVALID_TOKEN
// to avoid confirming to a caller which jtis ever existed.
func MapAuthError(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return apperrors.NewUnauthorizedCode("INVALID_CREDENTIALS", "invalid credentials")
	case errors.Is(err, service.ErrTokenExpired):
		return apperrors.NewUnauthorizedCode("TOKEN_EXPIRED", "token expired")
	case errors.Is(err, service.ErrTokenRevoked):
		return apperrors.NewUnauthorizedCode("TOKEN_REVOKED", "token revoked")
	case errors.Is(err, service.ErrTokenNotFound), errors.Is(err, service.ErrInvalidToken):
		return apperrors.NewUnauthorizedCode("INVALID_TOKEN", "invalid token")
	case errors.Is(err, service.ErrUserNotFound):
		return apperrors.NewUnauthorizedCode("USER_NOT_FOUND", "user not found")
	case errors.Is(err, service.ErrUserInactive):
		return apperrors.NewUnauthorizedCode("USER_INACTIVE", "user inactive")
	default:
		return apperrors.NewServiceUnavailable(err)
	}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("username, email, password required", nil)
	}

	user, pair, err := h.tokens.Register(c.UserContext(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailTaken), errors.Is(err, service.ErrUsernameTaken):
			return apperrors.NewConflict(err.Error(), nil)
		case service.IsAuthError(err):
			return MapAuthError(err)
		}
		return apperrors.NewServiceUnavailable(err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": fiber.Map{
			"user": userResponse(user),
			"auth": tokenPairResponse(pair, h.tokens.AccessTokenTTL()),
		},
	})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	user, pair, err := h.tokens.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return MapAuthError(err)
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user": userResponse(user),
			"auth": tokenPairResponse(pair, h.tokens.AccessTokenTTL()),
		},
	})
}

// Refresh handles POST /auth/refresh: rotate-on-refresh of the token pair.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.RefreshToken == "" {
		return apperrors.NewValidationError("refresh_token required", nil)
	}

	pair, err := h.tokens.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return MapAuthError(err)
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"auth": tokenPairResponse(pair, h.tokens.AccessTokenTTL()),
		},
	})
}

// Logout handles POST /auth/logout. Always answers 200.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var req dto.LogoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.JSON(fiber.Map{"data": fiber.Map{"status": "ok"}})
	}

	_ = h.tokens.Logout(c.UserContext(), req.RefreshToken)
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "ok"}})
}

// LogoutAll handles POST /auth/logout-all for the authenticated user.
func (h *AuthHandler) LogoutAll(c *fiber.Ctx) error {
	userID := CurrentUserID(c)
	if userID == "" {
		return apperrors.NewUnauthorized("authentication required")
	}

	count, err := h.tokens.LogoutAll(c.UserContext(), userID)
	if err != nil {
		return MapAuthError(err)
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"revoked": count}})
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, ok := CurrentUser(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"user": userResponse(user)}})
}

func userResponse(user *domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     string(user.Role),
	}
}

func tokenPairResponse(pair *domain.TokenPair, accessTTL time.Duration) dto.TokenPairResponse {
	return dto.TokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(accessTTL.Seconds()),
	}
}
