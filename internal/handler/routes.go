package handler

import "github.com/gofiber/fiber/v2"

// Handlers groups everything RegisterRoutes mounts.
type Handlers struct {
	Coupon      *CouponHandler
	Reservation *ReservationHandler
	UserCoupon  *UserCouponHandler
	Health      *HealthHandler
	// ReserveLimit guards only the reserve endpoint; nil means unlimited.
	ReserveLimit fiber.Handler
}

// RegisterRoutes mounts the public API on app.
func RegisterRoutes(app *fiber.App, h Handlers) {
	app.Get("/health", h.Health.Check)

	limit := h.ReserveLimit
	if limit == nil {
		limit = func(c *fiber.Ctx) error { return c.Next() }
	}

	api := app.Group("/api")
	api.Post("/coupons", h.Coupon.CreateCoupon)
	api.Get("/coupons/:id", h.Coupon.GetCoupon)
	api.Post("/coupons/:id/reserve", limit, h.Reservation.Reserve)
	api.Get("/coupons/:id/reservations/:userId", h.Reservation.GetReservation)

	api.Get("/users/:userId/coupons", h.UserCoupon.ListUserCoupons)
	api.Post("/users/:userId/coupons/:couponId/use", h.UserCoupon.UseCoupon)
}
