package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Pinger is an interface for health check ping operations.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	db    Pinger
	redis Pinger
}

// NewHealthHandler creates a new HealthHandler for the durable and reservation stores.
func NewHealthHandler(db, redis Pinger) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

// Check pings PostgreSQL, then Redis.
// Returns 200 OK with {"status": "healthy"} when both are reachable.
// Returns 503 Service Unavailable with {"status": "unhealthy", "error": "..."} naming the first failure.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	if err := h.db.Ping(c.Context()); err != nil {
		log.Error().Err(err).Msg("health check failed: database unreachable")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  "database connection failed",
		})
	}
	if err := h.redis.Ping(c.Context()); err != nil {
		log.Error().Err(err).Msg("health check failed: redis unreachable")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  "redis connection failed",
		})
	}
	return c.JSON(fiber.Map{
		"status": "healthy",
	})
}
