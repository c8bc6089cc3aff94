package ratelimit

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/quiz-service/pkg/util"
)

// Route classes with distinct budgets. Authentication routes get the stricter
// limit because they are the credential-guessing surface.
const (
	ClassAuth    = "auth"
	ClassGeneral = "general"
)

var authPaths = []string{"/auth/login", "/auth/register", "/auth/refresh"}

// ClassifyPath maps a request path to its route class.
func ClassifyPath(path string) string {
	for _, p := range authPaths {
		if strings.HasPrefix(path, p) {
			return ClassAuth
		}
	}
	return ClassGeneral
}

// KeyFunc resolves the client identity used for counting. The same identity
// feeds both the counter key and the response headers.
type KeyFunc func(c *fiber.Ctx) string

// Middleware applies the limiter to every request and stamps the rate limit
// headers on the response.
func Middleware(limiter *Limiter, keyFunc KeyFunc) fiber.Handler {
	if keyFunc == nil {
		keyFunc = func(c *fiber.Ctx) string { return c.IP() }
	}
	return func(c *fiber.Ctx) error {
		decision := limiter.Allow(c.UserContext(), keyFunc(c), ClassifyPath(c.Path()))

		c.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set("Retry-After", strconv.Itoa(retryAfter))
			return apperrors.NewTooManyRequests(retryAfter)
		}
		return c.Next()
	}
}
