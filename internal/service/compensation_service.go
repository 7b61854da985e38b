package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// CompensationResult describes what the compensator did for a dead-letter.
type CompensationResult int

const (
	// Compensated means the reservation was released and the slot returned.
	Compensated CompensationResult = iota + 1
	// ConfirmedInstead means a UserCoupon already existed, so the reservation was confirmed.
	ConfirmedInstead
	// NoOp means no reservation marker was left to act on.
	NoOp
)

func (r CompensationResult) String() string {
	switch r {
	case Compensated:
		return "COMPENSATED"
	case ConfirmedInstead:
		return "CONFIRMED"
	case NoOp:
		return "NOOP"
	default:
		return "UNKNOWN"
	}
}

// UserCouponChecker reports whether a durable issuance row exists.
type UserCouponChecker interface {
	Exists(ctx context.Context, userID, couponID int64) (bool, error)
}

// CompensationService reverses admissions whose fulfillment gave up.
type CompensationService struct {
	userCoupons UserCouponChecker
	store       ReservationStore
	issuedTTL   time.Duration
}

// NewCompensationService creates a CompensationService.
func NewCompensationService(userCoupons UserCouponChecker, store ReservationStore, issuedTTL time.Duration) *CompensationService {
	return &CompensationService{userCoupons: userCoupons, store: store, issuedTTL: issuedTTL}
}

// Compensate releases the user's reservation. If the durable row already
// exists the reservation is confirmed instead, so capacity is never credited
// for a coupon that was actually issued. Calling it twice is safe.
func (s *CompensationService) Compensate(ctx context.Context, couponID, userID int64) (CompensationResult, error) {
	exists, err := s.userCoupons.Exists(ctx, userID, couponID)
	if err != nil {
		return 0, fmt.Errorf("check issued: %w", err)
	}

	if exists {
		confirmed, err := s.store.ConfirmIssued(ctx, couponID, userID, s.issuedTTL)
		if err != nil {
			return 0, fmt.Errorf("confirm issued: %w", err)
		}
		if !confirmed {
			return NoOp, nil
		}
		log.Info().Int64("coupon_id", couponID).Int64("user_id", userID).Msg("dead-lettered request was already issued, confirmed")
		return ConfirmedInstead, nil
	}

	released, err := s.store.CompensateReservation(ctx, couponID, userID)
	if err != nil {
		return 0, fmt.Errorf("compensate reservation: %w", err)
	}
	if !released {
		return NoOp, nil
	}
	log.Info().Int64("coupon_id", couponID).Int64("user_id", userID).Msg("reservation compensated")
	return Compensated, nil
}
