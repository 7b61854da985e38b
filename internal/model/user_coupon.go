package model

import (
	"fmt"
	"strings"
	"time"
)

// CouponStatus is the lifecycle state of an issued coupon.
type CouponStatus string

const (
	CouponStatusAvailable CouponStatus = "AVAILABLE"
	CouponStatusUsed      CouponStatus = "USED"
	CouponStatusExpired   CouponStatus = "EXPIRED"
)

// ParseCouponStatus converts a case-insensitive string into a CouponStatus.
func ParseCouponStatus(s string) (CouponStatus, error) {
	switch st := CouponStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case CouponStatusAvailable, CouponStatusUsed, CouponStatusExpired:
		return st, nil
	default:
		return "", fmt.Errorf("unknown coupon status %q", s)
	}
}

// UserCoupon is the durable issuance record. At most one exists per (user, coupon).
type UserCoupon struct {
	ID        int64        `json:"id"`
	UserID    int64        `json:"user_id"`
	CouponID  int64        `json:"coupon_id"`
	Status    CouponStatus `json:"status"`
	IssuedAt  time.Time    `json:"issued_at"`
	UsedAt    *time.Time   `json:"used_at,omitempty"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// IsUsable reports whether the holder may redeem the coupon at now.
func (uc *UserCoupon) IsUsable(now time.Time) bool {
	return uc.Status == CouponStatusAvailable && !now.After(uc.ExpiresAt)
}

// UserCouponResponse is an issued coupon enriched with its coupon details.
type UserCouponResponse struct {
	ID           int64        `json:"id"`
	CouponID     int64        `json:"coupon_id"`
	CouponName   string       `json:"coupon_name"`
	DiscountRate int          `json:"discount_rate"`
	Status       CouponStatus `json:"status"`
	IssuedAt     time.Time    `json:"issued_at"`
	UsedAt       *time.Time   `json:"used_at,omitempty"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// UserCouponListResponse is the API response DTO for GET /api/users/:userId/coupons
type UserCouponListResponse struct {
	UserID  int64                `json:"user_id"`
	Coupons []UserCouponResponse `json:"coupons"`
}
