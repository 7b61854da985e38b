package handler

import (
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// ReserveRateLimit sheds reserve traffic above rps with a single token bucket
// shared by all callers. rps <= 0 disables it.
func ReserveRateLimit(rps float64, burst int) fiber.Handler {
	if rps <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	if burst < 1 {
		burst = 1
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *fiber.Ctx) error {
		if !limiter.Allow() {
			c.Set(fiber.HeaderRetryAfter, "1")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many requests"})
		}
		return c.Next()
	}
}
