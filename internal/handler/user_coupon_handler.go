package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
)

// UserCouponServiceInterface defines the interface for a user's issued coupons.
type UserCouponServiceInterface interface {
	ListUserCoupons(ctx context.Context, userID int64, status *model.CouponStatus) (*model.UserCouponListResponse, error)
	UseCoupon(ctx context.Context, userID, couponID int64) (*model.UserCoupon, error)
}

// UserCouponHandler handles HTTP requests for issued coupons.
type UserCouponHandler struct {
	service UserCouponServiceInterface
}

// NewUserCouponHandler creates a new UserCouponHandler.
func NewUserCouponHandler(svc UserCouponServiceInterface) *UserCouponHandler {
	return &UserCouponHandler{service: svc}
}

// ListUserCoupons handles GET /api/users/:userId/coupons?status=AVAILABLE.
func (h *UserCouponHandler) ListUserCoupons(c *fiber.Ctx) error {
	userID, ok := paramID(c, "userId")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: userId must be a positive integer"})
	}

	var status *model.CouponStatus
	if raw := c.Query("status"); raw != "" {
		st, err := model.ParseCouponStatus(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: status must be AVAILABLE, USED or EXPIRED"})
		}
		status = &st
	}

	resp, err := h.service.ListUserCoupons(c.Context(), userID, status)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to list user coupons")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(resp)
}

// UseCoupon handles POST /api/users/:userId/coupons/:couponId/use.
func (h *UserCouponHandler) UseCoupon(c *fiber.Ctx) error {
	userID, ok := paramID(c, "userId")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: userId must be a positive integer"})
	}
	couponID, ok := paramID(c, "couponId")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: couponId must be a positive integer"})
	}

	uc, err := h.service.UseCoupon(c.Context(), userID, couponID)
	if err != nil {
		status, msg := errorStatus(err)
		if status == fiber.StatusInternalServerError {
			log.Error().Err(err).Int64("user_id", userID).Int64("coupon_id", couponID).Msg("failed to use coupon")
		}
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	return c.JSON(uc)
}
