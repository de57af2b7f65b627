package ratelimit

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/auth"
)

// Middleware returns Fiber middleware enforcing class's cap against the authenticated principal
//. It must run after auth.RequireAuth, which is where PrincipalLocalsKey is populated.
func Middleware(limiter Limiter, class string) fiber.Handler {
	return func(c fiber.Ctx) error {
		principal, ok := auth.FromContext(c)
		if !ok {
			return apierror.TokenRejected("no authenticated principal")
		}

		decision, err := limiter.Allow(c.Context(), principal.UserID, class)
		if err != nil {
			return apierror.ServerError(err, "rate limit check")
		}
		if !decision.Allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(decision.RetryAfter.Seconds())))
			return apierror.RateLimited("rate limit exceeded for %s", class)
		}
		return c.Next()
	}
}
