package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/quiz-service/internal/api/http/handlers"
	"github.com/spec-kit/quiz-service/internal/ratelimit"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	AuthMiddleware *AuthMiddleware
	RateLimiter    *ratelimit.Limiter
}

// RegisterRoutes wires HTTP routes. The rate limiter runs before everything
// else on the group so even unauthenticated abuse is counted.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Use(ratelimit.Middleware(cfg.RateLimiter, clientKey))

	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Post("/logout", cfg.Auth.Logout)

	protected := authGroup.Group("", cfg.AuthMiddleware.Handle)
	protected.Post("/logout-all", cfg.Auth.LogoutAll)
	protected.Get("/me", cfg.Auth.Me)
}

// clientKey counts authenticated callers by user id and anonymous ones by IP.
func clientKey(c *fiber.Ctx) string {
	if id := handlers.CurrentUserID(c); id != "" {
		return id
	}
	return c.IP()
}
