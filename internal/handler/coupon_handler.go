package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
)

// CouponServiceInterface defines the interface for coupon administration.
type CouponServiceInterface interface {
	Create(ctx context.Context, req *model.CreateCouponRequest) (*model.CouponResponse, error)
	GetByID(ctx context.Context, id int64) (*model.CouponResponse, error)
}

// CouponHandler handles HTTP requests for coupon operations.
type CouponHandler struct {
	service   CouponServiceInterface
	validator *validator.Validate
}

// NewCouponHandler creates a new CouponHandler with the given service and validator.
func NewCouponHandler(svc CouponServiceInterface, v *validator.Validate) *CouponHandler {
	return &CouponHandler{service: svc, validator: v}
}

// CreateCoupon handles POST /api/coupons requests to create a new coupon.
func (h *CouponHandler) CreateCoupon(c *fiber.Ctx) error {
	var req model.CreateCouponRequest

	// Parse JSON body
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	coupon, err := h.service.Create(c.Context(), &req)
	if err != nil {
		status, msg := errorStatus(err)
		if status == fiber.StatusInternalServerError {
			log.Error().Err(err).Str("code", req.Code).Msg("failed to create coupon")
		}
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	return c.Status(fiber.StatusCreated).JSON(coupon)
}

// GetCoupon handles GET /api/coupons/:id requests to retrieve coupon details.
func (h *CouponHandler) GetCoupon(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: id must be a positive integer"})
	}

	coupon, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		status, msg := errorStatus(err)
		if status == fiber.StatusInternalServerError {
			log.Error().Err(err).Int64("coupon_id", id).Msg("failed to get coupon")
		}
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	return c.JSON(coupon)
}
