package model

import "time"

// Coupon represents a promotional coupon with a limited quantity and a validity window.
type Coupon struct {
	ID             int64     `json:"id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	DiscountRate   int       `json:"discount_rate"`
	TotalQuantity  int       `json:"total_quantity"`
	IssuedQuantity int       `json:"issued_quantity"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	CreatedAt      time.Time `json:"-"` // Not exposed in API
}

// RemainingQuantity is the durable remaining stock. It lags behind the reservation store.
func (c *Coupon) RemainingQuantity() int {
	return c.TotalQuantity - c.IssuedQuantity
}

// IsExpired reports whether now is past the end of the validity window.
func (c *Coupon) IsExpired(now time.Time) bool {
	return now.After(c.EndAt)
}

// IsStarted reports whether the validity window has opened.
func (c *Coupon) IsStarted(now time.Time) bool {
	return !now.Before(c.StartAt)
}

// CouponResponse is the API response DTO for GET /api/coupons/:id
type CouponResponse struct {
	ID                int64     `json:"id"`
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	DiscountRate      int       `json:"discount_rate"`
	TotalQuantity     int       `json:"total_quantity"`
	IssuedQuantity    int       `json:"issued_quantity"`
	RemainingQuantity int       `json:"remaining_quantity"`
	StartAt           time.Time `json:"start_at"`
	EndAt             time.Time `json:"end_at"`
}

// CreateCouponRequest is the DTO for creating a coupon
type CreateCouponRequest struct {
	Code          string     `json:"code" validate:"required,notblank,couponcode,max=20"`
	Name          string     `json:"name" validate:"required,notblank,max=100"`
	DiscountRate  *int       `json:"discount_rate" validate:"required,gte=0,lte=100"`
	TotalQuantity *int       `json:"total_quantity" validate:"required,gte=1"`
	StartAt       *time.Time `json:"start_at" validate:"required"`
	EndAt         *time.Time `json:"end_at" validate:"required"`
}

// ReserveCouponRequest is the DTO for reserving a coupon slot
type ReserveCouponRequest struct {
	UserID int64 `json:"user_id" validate:"required,gte=1"`
}

// ReserveCouponResponse is returned when a slot has been reserved and
// the issuance request has been handed to the fulfillment pipeline.
// Sequence is informational only: compensations can skew it.
type ReserveCouponResponse struct {
	CouponID  int64  `json:"coupon_id"`
	UserID    int64  `json:"user_id"`
	RequestID string `json:"request_id"`
	Sequence  int64  `json:"sequence"`
}

// ReservationStatusResponse is the API response DTO for GET /api/coupons/:id/reservations/:userId.
// Status is NONE, RESERVED or ISSUED as seen by the admission store.
type ReservationStatusResponse struct {
	CouponID  int64  `json:"coupon_id"`
	UserID    int64  `json:"user_id"`
	Status    string `json:"status"`
	Remaining int64  `json:"remaining"`
}
