package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
)

// ReservationServiceInterface defines the interface for the reservation pipeline entry point.
type ReservationServiceInterface interface {
	Reserve(ctx context.Context, couponID, userID int64) (*model.ReserveCouponResponse, error)
	Status(ctx context.Context, couponID, userID int64) (*model.ReservationStatusResponse, error)
}

// ReservationHandler handles HTTP requests for coupon reservations.
type ReservationHandler struct {
	service   ReservationServiceInterface
	validator *validator.Validate
}

// NewReservationHandler creates a new ReservationHandler with the given service and validator.
func NewReservationHandler(svc ReservationServiceInterface, v *validator.Validate) *ReservationHandler {
	return &ReservationHandler{service: svc, validator: v}
}

// Reserve handles POST /api/coupons/:id/reserve.
// A 202 means the slot is held and issuance is in progress, not that the coupon is issued yet.
func (h *ReservationHandler) Reserve(c *fiber.Ctx) error {
	couponID, ok := paramID(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: id must be a positive integer"})
	}

	var req model.ReserveCouponRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	resp, err := h.service.Reserve(c.Context(), couponID, req.UserID)
	if err != nil {
		status, msg := errorStatus(err)
		event := log.Debug()
		if status >= fiber.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Err(err).
			Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
			Int64("coupon_id", couponID).
			Int64("user_id", req.UserID).
			Int("status", status).
			Msg("reservation rejected")
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	return c.Status(fiber.StatusAccepted).JSON(resp)
}

// GetReservation handles GET /api/coupons/:id/reservations/:userId.
func (h *ReservationHandler) GetReservation(c *fiber.Ctx) error {
	couponID, ok := paramID(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: id must be a positive integer"})
	}
	userID, ok := paramID(c, "userId")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: userId must be a positive integer"})
	}

	resp, err := h.service.Status(c.Context(), couponID, userID)
	if err != nil {
		status, msg := errorStatus(err)
		if status >= fiber.StatusInternalServerError {
			log.Error().Err(err).Int64("coupon_id", couponID).Int64("user_id", userID).Msg("failed to read reservation")
		}
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	return c.JSON(resp)
}
