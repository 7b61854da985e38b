package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
	"github.com/fairyhunter13/flash-coupon-system/internal/service"
	"github.com/fairyhunter13/flash-coupon-system/pkg/database"
)

// UserCouponRepository provides data access for issued coupons using pgx.
type UserCouponRepository struct {
	pool PoolInterface
}

// NewUserCouponRepository creates a new UserCouponRepository with the given pool.
func NewUserCouponRepository(pool *pgxpool.Pool) *UserCouponRepository {
	return &UserCouponRepository{pool: pool}
}

// NewUserCouponRepositoryWithPool creates a new UserCouponRepository with a custom pool interface.
// This is primarily used for testing.
func NewUserCouponRepositoryWithPool(pool PoolInterface) *UserCouponRepository {
	return &UserCouponRepository{pool: pool}
}

// Insert inserts a new issuance record within a transaction.
// Returns service.ErrAlreadyIssued on the (user_id, coupon_id) unique constraint
// and service.ErrCouponNotFound when the coupon row does not exist.
func (r *UserCouponRepository) Insert(ctx context.Context, tx database.TxQuerier, uc *model.UserCoupon) error {
	query := `INSERT INTO user_coupons (user_id, coupon_id, status, expires_at)
	          VALUES ($1, $2, $3, $4)
	          RETURNING id, issued_at`

	err := tx.QueryRow(ctx, query, uc.UserID, uc.CouponID, string(uc.Status), uc.ExpiresAt).Scan(&uc.ID, &uc.IssuedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return service.ErrAlreadyIssued
			case pgForeignKeyViolation:
				return service.ErrCouponNotFound
			}
		}
		return fmt.Errorf("insert user coupon: %w", err)
	}
	return nil
}

// Exists reports whether the user already holds the coupon.
func (r *UserCouponRepository) Exists(ctx context.Context, userID, couponID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_coupons WHERE user_id = $1 AND coupon_id = $2)`,
		userID, couponID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user coupon user=%d coupon=%d: %w", userID, couponID, err)
	}
	return exists, nil
}

// ListByUser returns the user's coupons joined with coupon details, newest first.
// A nil status returns every status. On success an empty slice (not nil) is returned.
func (r *UserCouponRepository) ListByUser(ctx context.Context, userID int64, status *model.CouponStatus) ([]model.UserCouponResponse, error) {
	query := `SELECT uc.id, uc.coupon_id, c.name, c.discount_rate, uc.status, uc.issued_at, uc.used_at, uc.expires_at
	          FROM user_coupons uc
	          JOIN coupons c ON c.id = uc.coupon_id
	          WHERE uc.user_id = $1 AND ($2::text IS NULL OR uc.status = $2)
	          ORDER BY uc.issued_at DESC, uc.id DESC`

	var statusArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}

	rows, err := r.pool.Query(ctx, query, userID, statusArg)
	if err != nil {
		return nil, fmt.Errorf("list user coupons for %d: %w", userID, err)
	}
	defer rows.Close()

	coupons := []model.UserCouponResponse{}
	for rows.Next() {
		var (
			item   model.UserCouponResponse
			status string
		)
		if err := rows.Scan(&item.ID, &item.CouponID, &item.CouponName, &item.DiscountRate,
			&status, &item.IssuedAt, &item.UsedAt, &item.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan user coupon: %w", err)
		}
		item.Status = model.CouponStatus(status)
		coupons = append(coupons, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user coupon rows: %w", err)
	}
	return coupons, nil
}

// GetForUpdate locks the user's issuance record for the coupon.
// Returns service.ErrUserCouponNotFound if the user does not hold the coupon.
func (r *UserCouponRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error) {
	query := `SELECT id, user_id, coupon_id, status, issued_at, used_at, expires_at
	          FROM user_coupons WHERE user_id = $1 AND coupon_id = $2 FOR UPDATE`

	var (
		uc     model.UserCoupon
		status string
	)
	err := tx.QueryRow(ctx, query, userID, couponID).Scan(
		&uc.ID, &uc.UserID, &uc.CouponID, &status, &uc.IssuedAt, &uc.UsedAt, &uc.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrUserCouponNotFound
		}
		return nil, fmt.Errorf("get user coupon for update user=%d coupon=%d: %w", userID, couponID, err)
	}
	uc.Status = model.CouponStatus(status)
	return &uc, nil
}

// UpdateStatus sets the status (and used_at) of an issuance record.
func (r *UserCouponRepository) UpdateStatus(ctx context.Context, tx database.TxQuerier, id int64, status model.CouponStatus, usedAt *time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE user_coupons SET status = $2, used_at = $3 WHERE id = $1`,
		id, string(status), usedAt)
	if err != nil {
		return fmt.Errorf("update user coupon %d: %w", id, err)
	}
	return nil
}
