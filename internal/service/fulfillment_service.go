package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
	"github.com/fairyhunter13/flash-coupon-system/pkg/database"
	"github.com/fairyhunter13/flash-coupon-system/pkg/lock"
)

// Locker runs fn while holding a named distributed lock. lock.Locker implements it.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// FulfillmentResult describes how an issuance request was settled.
type FulfillmentResult int

const (
	// Issued means this call wrote the UserCoupon row.
	Issued FulfillmentResult = iota + 1
	// Duplicate means the row already existed; the request was a redelivery or a raced reservation.
	Duplicate
)

func (r FulfillmentResult) String() string {
	switch r {
	case Issued:
		return "ISSUED"
	case Duplicate:
		return "DUPLICATE"
	default:
		return "UNKNOWN"
	}
}

// FulfillmentService performs the durable write for an admitted reservation
// and then confirms it in the admission store.
type FulfillmentService struct {
	pool           TxBeginner
	couponRepo     CouponRepositoryInterface
	userCouponRepo UserCouponRepositoryInterface
	store          ReservationStore
	locker         Locker
	issuedTTL      time.Duration
	lockTimeout    time.Duration
}

// NewFulfillmentService creates a FulfillmentService. lockTimeout bounds the
// coupon row lock wait; issuedTTL is passed to ConfirmIssued.
func NewFulfillmentService(
	pool TxBeginner,
	couponRepo CouponRepositoryInterface,
	userCouponRepo UserCouponRepositoryInterface,
	store ReservationStore,
	locker Locker,
	issuedTTL, lockTimeout time.Duration,
) *FulfillmentService {
	return &FulfillmentService{
		pool:           pool,
		couponRepo:     couponRepo,
		userCouponRepo: userCouponRepo,
		store:          store,
		locker:         locker,
		issuedTTL:      issuedTTL,
		lockTimeout:    lockTimeout,
	}
}

// IssueLockKey is the distributed lock name for one (coupon, user) pair.
func IssueLockKey(couponID, userID int64) string {
	return fmt.Sprintf("coupon:issue:%d:%d", couponID, userID)
}

// Fulfill issues the coupon durably and confirms the reservation.
// A unique violation on (user, coupon) counts as success and is confirmed too,
// never compensated. Permanent failures are reported through IsPermanent.
func (s *FulfillmentService) Fulfill(ctx context.Context, req model.IssueRequest) (FulfillmentResult, error) {
	if err := req.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	err := s.locker.WithLock(ctx, IssueLockKey(req.CouponID, req.UserID), func(ctx context.Context) error {
		return s.persist(ctx, req)
	})

	var result FulfillmentResult
	switch {
	case err == nil:
		result = Issued
	case errors.Is(err, ErrAlreadyIssued):
		result = Duplicate
	case errors.Is(err, lock.ErrNotAcquired):
		return 0, fmt.Errorf("%w: %w", ErrLockTimeout, err)
	default:
		return 0, err
	}

	confirmed, err := s.store.ConfirmIssued(ctx, req.CouponID, req.UserID, s.issuedTTL)
	if err != nil {
		// The durable row exists, so a retry lands on the duplicate path and confirms again.
		return result, fmt.Errorf("confirm issued: %w", err)
	}

	event := log.Info()
	if !confirmed {
		event = log.Warn()
	}
	event.
		Int64("coupon_id", req.CouponID).
		Int64("user_id", req.UserID).
		Str("request_id", req.RequestID).
		Stringer("result", result).
		Bool("confirmed", confirmed).
		Msg("issue request fulfilled")
	return result, nil
}

func (s *FulfillmentService) persist(ctx context.Context, req model.IssueRequest) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	if err := database.SetLocalLockTimeout(ctx, tx, s.lockTimeout); err != nil {
		return err
	}

	// 1. Lock the coupon row (SELECT FOR UPDATE)
	coupon, err := s.couponRepo.GetCouponForUpdate(ctx, tx, req.CouponID)
	if err != nil {
		return err
	}

	// 2. Insert the issuance row first so a redelivery for an existing holder
	// surfaces ErrAlreadyIssued even when the coupon is fully issued
	uc := &model.UserCoupon{
		UserID:    req.UserID,
		CouponID:  req.CouponID,
		Status:    model.CouponStatusAvailable,
		ExpiresAt: coupon.EndAt,
	}
	if err := s.userCouponRepo.Insert(ctx, tx, uc); err != nil {
		return err
	}

	// 3. Re-check stock; only trips if admission and durable state drifted
	if coupon.IssuedQuantity >= coupon.TotalQuantity {
		return ErrSoldOut
	}

	// 4. Increment issued quantity
	if err := s.couponRepo.IncrementIssued(ctx, tx, coupon.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
