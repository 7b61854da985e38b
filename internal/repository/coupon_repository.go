package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
	"github.com/fairyhunter13/flash-coupon-system/internal/service"
	"github.com/fairyhunter13/flash-coupon-system/pkg/database"
)

// PostgreSQL error codes the repositories translate into service errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgLockNotAvailable    = "55P03"
)

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CouponRepository provides data access for coupons using pgx.
type CouponRepository struct {
	pool PoolInterface
}

// NewCouponRepository creates a new CouponRepository with the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// NewCouponRepositoryWithPool creates a new CouponRepository with a custom pool interface.
// This is primarily used for testing.
func NewCouponRepositoryWithPool(pool PoolInterface) *CouponRepository {
	return &CouponRepository{pool: pool}
}

const couponColumns = `id, code, name, discount_rate, total_quantity, issued_quantity, start_at, end_at, created_at`

func scanCoupon(row pgx.Row, c *model.Coupon) error {
	return row.Scan(
		&c.ID,
		&c.Code,
		&c.Name,
		&c.DiscountRate,
		&c.TotalQuantity,
		&c.IssuedQuantity,
		&c.StartAt,
		&c.EndAt,
		&c.CreatedAt,
	)
}

// Insert inserts a new coupon and fills in its generated ID.
// Returns service.ErrCouponExists if a coupon with the same code already exists.
func (r *CouponRepository) Insert(ctx context.Context, coupon *model.Coupon) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO coupons (code, name, discount_rate, total_quantity, issued_quantity, start_at, end_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6)
		 RETURNING id, created_at`,
		coupon.Code, coupon.Name, coupon.DiscountRate, coupon.TotalQuantity, coupon.StartAt, coupon.EndAt,
	).Scan(&coupon.ID, &coupon.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return service.ErrCouponExists
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	coupon.IssuedQuantity = 0
	return nil
}

// GetByID retrieves a coupon by its ID.
// Returns nil, nil if the coupon is not found (service layer handles this).
func (r *CouponRepository) GetByID(ctx context.Context, id int64) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	var coupon model.Coupon
	if err := scanCoupon(r.pool.QueryRow(ctx, query, id), &coupon); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coupon %d: %w", id, err)
	}
	return &coupon, nil
}

// GetCouponForUpdate retrieves a coupon with a row lock (SELECT FOR UPDATE).
// This locks the row until the transaction completes.
// Returns service.ErrCouponNotFound if the coupon doesn't exist and
// service.ErrLockTimeout if the lock wait exceeded lock_timeout.
func (r *CouponRepository) GetCouponForUpdate(ctx context.Context, tx database.TxQuerier, id int64) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1 FOR UPDATE`

	var coupon model.Coupon
	if err := scanCoupon(tx.QueryRow(ctx, query, id), &coupon); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrCouponNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, fmt.Errorf("lock coupon %d: %w", id, service.ErrLockTimeout)
		}
		return nil, fmt.Errorf("get coupon for update %d: %w", id, err)
	}
	return &coupon, nil
}

// IncrementIssued increments issued_quantity by 1.
// Must be called within a transaction after locking the row.
// Returns service.ErrSoldOut if issued_quantity already reached total_quantity.
func (r *CouponRepository) IncrementIssued(ctx context.Context, tx database.TxQuerier, id int64) error {
	query := `UPDATE coupons SET issued_quantity = issued_quantity + 1
	          WHERE id = $1 AND issued_quantity < total_quantity`

	tag, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment issued for %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrSoldOut
	}
	return nil
}
