package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
	"github.com/fairyhunter13/flash-coupon-system/pkg/database"
)

// CouponRepositoryInterface defines the interface for coupon data access.
type CouponRepositoryInterface interface {
	Insert(ctx context.Context, coupon *model.Coupon) error
	GetByID(ctx context.Context, id int64) (*model.Coupon, error)
	GetCouponForUpdate(ctx context.Context, tx database.TxQuerier, id int64) (*model.Coupon, error)
	IncrementIssued(ctx context.Context, tx database.TxQuerier, id int64) error
}

// UserCouponRepositoryInterface defines the interface for issued coupon data access.
type UserCouponRepositoryInterface interface {
	Insert(ctx context.Context, tx database.TxQuerier, uc *model.UserCoupon) error
	Exists(ctx context.Context, userID, couponID int64) (bool, error)
	ListByUser(ctx context.Context, userID int64, status *model.CouponStatus) ([]model.UserCouponResponse, error)
	GetForUpdate(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error)
	UpdateStatus(ctx context.Context, tx database.TxQuerier, id int64, status model.CouponStatus, usedAt *time.Time) error
}

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CouponService provides coupon administration and user coupon operations.
type CouponService struct {
	pool           TxBeginner
	couponRepo     CouponRepositoryInterface
	userCouponRepo UserCouponRepositoryInterface
	now            func() time.Time
}

// NewCouponService creates a new CouponService with the given pool and repositories.
func NewCouponService(pool *pgxpool.Pool, couponRepo CouponRepositoryInterface, userCouponRepo UserCouponRepositoryInterface) *CouponService {
	return NewCouponServiceWithTxBeginner(pool, couponRepo, userCouponRepo)
}

// NewCouponServiceWithTxBeginner creates a CouponService with a custom TxBeginner.
// Primarily used for testing.
func NewCouponServiceWithTxBeginner(pool TxBeginner, couponRepo CouponRepositoryInterface, userCouponRepo UserCouponRepositoryInterface) *CouponService {
	return &CouponService{
		pool:           pool,
		couponRepo:     couponRepo,
		userCouponRepo: userCouponRepo,
		now:            time.Now,
	}
}

// Create creates a new coupon from the request.
// Returns ErrCouponExists if a coupon with the same code already exists.
// Returns ErrInvalidRequest if request data is nil, incomplete, or the window is empty.
func (s *CouponService) Create(ctx context.Context, req *model.CreateCouponRequest) (*model.CouponResponse, error) {
	// Defense-in-depth: check for nil pointers even though handler validates
	if req == nil || req.DiscountRate == nil || req.TotalQuantity == nil || req.StartAt == nil || req.EndAt == nil {
		return nil, ErrInvalidRequest
	}
	if !req.StartAt.Before(*req.EndAt) {
		return nil, fmt.Errorf("%w: start_at must be before end_at", ErrInvalidRequest)
	}

	coupon := &model.Coupon{
		Code:          req.Code,
		Name:          req.Name,
		DiscountRate:  *req.DiscountRate,
		TotalQuantity: *req.TotalQuantity,
		StartAt:       *req.StartAt,
		EndAt:         *req.EndAt,
	}
	if err := s.couponRepo.Insert(ctx, coupon); err != nil {
		return nil, err
	}

	log.Info().
		Int64("coupon_id", coupon.ID).
		Str("code", coupon.Code).
		Int("total_quantity", coupon.TotalQuantity).
		Msg("coupon created")
	return toCouponResponse(coupon), nil
}

// GetByID retrieves a coupon by ID.
// Returns ErrCouponNotFound if the coupon doesn't exist.
func (s *CouponService) GetByID(ctx context.Context, id int64) (*model.CouponResponse, error) {
	coupon, err := s.couponRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}
	return toCouponResponse(coupon), nil
}

// ListUserCoupons returns the coupons issued to userID, optionally filtered by status.
func (s *CouponService) ListUserCoupons(ctx context.Context, userID int64, status *model.CouponStatus) (*model.UserCouponListResponse, error) {
	coupons, err := s.userCouponRepo.ListByUser(ctx, userID, status)
	if err != nil {
		return nil, fmt.Errorf("list user coupons: %w", err)
	}
	return &model.UserCouponListResponse{UserID: userID, Coupons: coupons}, nil
}

// UseCoupon redeems the user's coupon.
// Locks the issuance row so concurrent redemptions of the same coupon serialize.
// Returns:
//   - ErrUserCouponNotFound if the user does not hold the coupon
//   - ErrCouponNotUsable if it is already used or past its expiry
func (s *CouponService) UseCoupon(ctx context.Context, userID, couponID int64) (*model.UserCoupon, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	uc, err := s.userCouponRepo.GetForUpdate(ctx, tx, userID, couponID)
	if err != nil {
		if errors.Is(err, ErrUserCouponNotFound) {
			return nil, ErrUserCouponNotFound
		}
		return nil, fmt.Errorf("get user coupon for update: %w", err)
	}

	now := s.now()
	if !uc.IsUsable(now) {
		return nil, ErrCouponNotUsable
	}

	if err := s.userCouponRepo.UpdateStatus(ctx, tx, uc.ID, model.CouponStatusUsed, &now); err != nil {
		return nil, fmt.Errorf("mark used: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	uc.Status = model.CouponStatusUsed
	uc.UsedAt = &now
	log.Info().Int64("coupon_id", couponID).Int64("user_id", userID).Msg("coupon used")
	return uc, nil
}

func toCouponResponse(c *model.Coupon) *model.CouponResponse {
	return &model.CouponResponse{
		ID:                c.ID,
		Code:              c.Code,
		Name:              c.Name,
		DiscountRate:      c.DiscountRate,
		TotalQuantity:     c.TotalQuantity,
		IssuedQuantity:    c.IssuedQuantity,
		RemainingQuantity: c.RemainingQuantity(),
		StartAt:           c.StartAt,
		EndAt:             c.EndAt,
	}
}
