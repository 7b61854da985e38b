package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
)

// FailedEventRepository stores events that need manual intervention.
type FailedEventRepository struct {
	pool PoolInterface
}

// NewFailedEventRepository creates a new FailedEventRepository with the given pool.
func NewFailedEventRepository(pool *pgxpool.Pool) *FailedEventRepository {
	return &FailedEventRepository{pool: pool}
}

// NewFailedEventRepositoryWithPool creates a new FailedEventRepository with a custom pool interface.
func NewFailedEventRepositoryWithPool(pool PoolInterface) *FailedEventRepository {
	return &FailedEventRepository{pool: pool}
}

// Insert records a failed event and fills in its ID.
func (r *FailedEventRepository) Insert(ctx context.Context, ev *model.FailedEvent) error {
	if ev.Status == "" {
		ev.Status = model.FailedEventPending
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO failed_events (event_type, event_id, payload, error_message, retry_count, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		ev.EventType, ev.EventID, ev.Payload, ev.ErrorMessage, ev.RetryCount, string(ev.Status),
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert failed event %s/%s: %w", ev.EventType, ev.EventID, err)
	}
	return nil
}
