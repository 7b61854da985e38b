package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/fairyhunter13/flash-coupon-system/internal/service"
)

// errorStatus maps service errors to an HTTP status and a stable client message.
// Unknown errors map to 500 and must be logged by the caller.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrCouponNotFound):
		return fiber.StatusNotFound, "coupon not found"
	case errors.Is(err, service.ErrUserCouponNotFound):
		return fiber.StatusNotFound, "user coupon not found"
	case errors.Is(err, service.ErrCouponExists):
		return fiber.StatusConflict, "coupon already exists"
	case errors.Is(err, service.ErrAlreadyReserved):
		return fiber.StatusConflict, "coupon already reserved by user"
	case errors.Is(err, service.ErrAlreadyIssued):
		return fiber.StatusConflict, "coupon already issued to user"
	case errors.Is(err, service.ErrCouponNotUsable):
		return fiber.StatusConflict, "coupon not usable"
	case errors.Is(err, service.ErrExpiredCoupon):
		return fiber.StatusGone, "coupon expired"
	case errors.Is(err, service.ErrCouponNotStarted):
		return fiber.StatusTooEarly, "coupon not started"
	case errors.Is(err, service.ErrSoldOut):
		return fiber.StatusBadRequest, "coupon sold out"
	case errors.Is(err, service.ErrInvalidRequest):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusRequestTimeout, "request cancelled"
	case errors.Is(err, service.ErrReservationUnavailable), errors.Is(err, service.ErrPublishFailed):
		return fiber.StatusServiceUnavailable, "service temporarily unavailable, please retry"
	default:
		return fiber.StatusInternalServerError, "internal server error"
	}
}

// jsonFieldNames maps struct fields to the names clients send.
var jsonFieldNames = map[string]string{
	"Code":          "code",
	"Name":          "name",
	"DiscountRate":  "discount_rate",
	"TotalQuantity": "total_quantity",
	"StartAt":       "start_at",
	"EndAt":         "end_at",
	"UserID":        "user_id",
}

// formatValidationError converts the first validator error into a client message.
func formatValidationError(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "invalid request"
	}

	fe := ve[0]
	field, ok := jsonFieldNames[fe.Field()]
	if !ok {
		field = fe.Field()
	}

	switch fe.Tag() {
	case "required":
		return "invalid request: " + field + " is required"
	case "notblank":
		return "invalid request: " + field + " cannot be whitespace only"
	case "couponcode":
		return "invalid request: " + field + " may only contain A-Z, 0-9, '-' and '_'"
	case "max":
		return "invalid request: " + field + " exceeds maximum length of " + fe.Param()
	case "gte":
		return "invalid request: " + field + " must be at least " + fe.Param()
	case "lte":
		return "invalid request: " + field + " must be at most " + fe.Param()
	default:
		return "invalid request: " + field + " is invalid"
	}
}

// paramID parses a positive int64 path parameter.
func paramID(c *fiber.Ctx, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
