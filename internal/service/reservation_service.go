package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
	"github.com/fairyhunter13/flash-coupon-system/internal/reservation"
)

// compensateTimeout bounds the best-effort rollback after a failed publish.
const compensateTimeout = 2 * time.Second

// ReservationStore is the admission store. reservation.Store implements it.
type ReservationStore interface {
	Reserve(ctx context.Context, couponID, userID, initialQuantity int64, ttl time.Duration) (reservation.ReserveResponse, error)
	ConfirmIssued(ctx context.Context, couponID, userID int64, issuedTTL time.Duration) (bool, error)
	CompensateReservation(ctx context.Context, couponID, userID int64) (bool, error)
	Snapshot(ctx context.Context, couponID, userID int64) (reservation.Snapshot, error)
}

// CouponReader reads coupons from the durable store.
type CouponReader interface {
	GetByID(ctx context.Context, id int64) (*model.Coupon, error)
}

// IssuePublisher hands an issuance request to the fulfillment pipeline.
type IssuePublisher interface {
	PublishIssueRequest(ctx context.Context, req model.IssueRequest) error
}

// ReservationService is the synchronous entry point of the issuance pipeline.
type ReservationService struct {
	coupons        CouponReader
	store          ReservationStore
	publisher      IssuePublisher
	reservationTTL time.Duration
	now            func() time.Time
	newRequestID   func() string
}

// NewReservationService creates a ReservationService. reservationTTL is how
// long an unconfirmed reservation holds its slot.
func NewReservationService(coupons CouponReader, store ReservationStore, publisher IssuePublisher, reservationTTL time.Duration) *ReservationService {
	return &ReservationService{
		coupons:        coupons,
		store:          store,
		publisher:      publisher,
		reservationTTL: reservationTTL,
		now:            time.Now,
		newRequestID:   uuid.NewString,
	}
}

// Reserve admits userID to couponID and publishes an issuance request.
// Returns:
//   - ErrCouponNotFound, ErrCouponNotStarted or ErrExpiredCoupon before touching the store
//   - ErrSoldOut, ErrAlreadyReserved or ErrAlreadyIssued for admission rejections
//   - ErrReservationUnavailable if the store failed (never reported as sold out)
//   - ErrPublishFailed if the request could not be handed off; the slot is released
func (s *ReservationService) Reserve(ctx context.Context, couponID, userID int64) (*model.ReserveCouponResponse, error) {
	if couponID <= 0 || userID <= 0 {
		return nil, ErrInvalidRequest
	}

	coupon, err := s.coupons.GetByID(ctx, couponID)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}

	now := s.now()
	if !coupon.IsStarted(now) {
		return nil, ErrCouponNotStarted
	}
	if coupon.IsExpired(now) {
		return nil, ErrExpiredCoupon
	}

	initial := int64(coupon.TotalQuantity)
	resp, err := s.store.Reserve(ctx, couponID, userID, initial, s.reservationTTL)
	if err != nil {
		if isContextErr(err) {
			return nil, err
		}
		log.Error().Err(err).Int64("coupon_id", couponID).Int64("user_id", userID).Msg("reservation store unavailable")
		return nil, fmt.Errorf("%w: %w", ErrReservationUnavailable, err)
	}

	switch resp.Result {
	case reservation.SoldOut:
		return nil, ErrSoldOut
	case reservation.AlreadyReserved:
		return nil, ErrAlreadyReserved
	case reservation.AlreadyIssued:
		return nil, ErrAlreadyIssued
	}

	req := model.IssueRequest{
		CouponID:    couponID,
		UserID:      userID,
		RequestID:   s.newRequestID(),
		RequestedAt: now,
	}
	if err := s.publisher.PublishIssueRequest(ctx, req); err != nil {
		s.releaseSlot(ctx, req, err)
		return nil, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	seq := resp.Sequence(initial)
	log.Info().
		Int64("coupon_id", couponID).
		Int64("user_id", userID).
		Str("request_id", req.RequestID).
		Int64("sequence", seq).
		Msg("coupon reserved")

	return &model.ReserveCouponResponse{
		CouponID:  couponID,
		UserID:    userID,
		RequestID: req.RequestID,
		Sequence:  seq,
	}, nil
}

// releaseSlot undoes a reservation whose request never reached the bus.
// It runs detached from ctx: the caller may already be gone.
func (s *ReservationService) releaseSlot(ctx context.Context, req model.IssueRequest, cause error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	released, err := s.store.CompensateReservation(cctx, req.CouponID, req.UserID)
	if err != nil {
		log.Error().
			Err(err).
			AnErr("publish_error", cause).
			Int64("coupon_id", req.CouponID).
			Int64("user_id", req.UserID).
			Str("request_id", req.RequestID).
			Bool("manual_intervention", true).
			Msg("publish failed and reservation could not be released")
		return
	}
	log.Warn().
		Err(cause).
		Int64("coupon_id", req.CouponID).
		Int64("user_id", req.UserID).
		Bool("released", released).
		Msg("publish failed, reservation released")
}

// Status reports the user's admission state and the remaining counter.
func (s *ReservationService) Status(ctx context.Context, couponID, userID int64) (*model.ReservationStatusResponse, error) {
	coupon, err := s.coupons.GetByID(ctx, couponID)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}

	snap, err := s.store.Snapshot(ctx, couponID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReservationUnavailable, err)
	}

	remaining := snap.Remaining
	if remaining < 0 {
		// Counter is created on the first reserve.
		remaining = int64(coupon.TotalQuantity)
	}
	return &model.ReservationStatusResponse{
		CouponID:  couponID,
		UserID:    userID,
		Status:    string(snap.Status),
		Remaining: remaining,
	}, nil
}
