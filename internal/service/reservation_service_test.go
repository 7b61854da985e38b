package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
	"github.com/fairyhunter13/flash-coupon-system/internal/reservation"
)

// mockStore is a mock implementation of ReservationStore.
type mockStore struct {
	reserveFn    func(ctx context.Context, couponID, userID, initialQuantity int64, ttl time.Duration) (reservation.ReserveResponse, error)
	confirmFn    func(ctx context.Context, couponID, userID int64, issuedTTL time.Duration) (bool, error)
	compensateFn func(ctx context.Context, couponID, userID int64) (bool, error)
	snapshotFn   func(ctx context.Context, couponID, userID int64) (reservation.Snapshot, error)

	confirmCalls    int
	compensateCalls int
}

func (m *mockStore) Reserve(ctx context.Context, couponID, userID, initialQuantity int64, ttl time.Duration) (reservation.ReserveResponse, error) {
	if m.reserveFn != nil {
		return m.reserveFn(ctx, couponID, userID, initialQuantity, ttl)
	}
	return reservation.ReserveResponse{Result: reservation.Reserved, RemainingAfter: initialQuantity - 1}, nil
}

func (m *mockStore) ConfirmIssued(ctx context.Context, couponID, userID int64, issuedTTL time.Duration) (bool, error) {
	m.confirmCalls++
	if m.confirmFn != nil {
		return m.confirmFn(ctx, couponID, userID, issuedTTL)
	}
	return true, nil
}

func (m *mockStore) CompensateReservation(ctx context.Context, couponID, userID int64) (bool, error) {
	m.compensateCalls++
	if m.compensateFn != nil {
		return m.compensateFn(ctx, couponID, userID)
	}
	return true, nil
}

func (m *mockStore) Snapshot(ctx context.Context, couponID, userID int64) (reservation.Snapshot, error) {
	if m.snapshotFn != nil {
		return m.snapshotFn(ctx, couponID, userID)
	}
	return reservation.Snapshot{Status: reservation.StatusNone, Remaining: -1}, nil
}

// mockPublisher is a mock implementation of IssuePublisher.
type mockPublisher struct {
	publishFn func(ctx context.Context, req model.IssueRequest) error
	published []model.IssueRequest
}

func (m *mockPublisher) PublishIssueRequest(ctx context.Context, req model.IssueRequest) error {
	m.published = append(m.published, req)
	if m.publishFn != nil {
		return m.publishFn(ctx, req)
	}
	return nil
}

var testNow = time.Date(2026, 11, 11, 12, 0, 0, 0, time.UTC)

func activeCoupon() *model.Coupon {
	return &model.Coupon{
		ID:            5,
		Code:          "FLASH50",
		TotalQuantity: 100,
		StartAt:       testNow.Add(-time.Hour),
		EndAt:         testNow.Add(time.Hour),
	}
}

func newTestReservationService(coupon *model.Coupon, store *mockStore, pub *mockPublisher) *ReservationService {
	repo := &mockCouponRepository{
		getByIDFn: func(ctx context.Context, id int64) (*model.Coupon, error) {
			return coupon, nil
		},
	}
	svc := NewReservationService(repo, store, pub, 24*time.Hour)
	svc.now = func() time.Time { return testNow }
	svc.newRequestID = func() string { return "req-1" }
	return svc
}

func TestReservationService_Reserve_Success(t *testing.T) {
	var gotInitial int64
	var gotTTL time.Duration
	store := &mockStore{
		reserveFn: func(ctx context.Context, couponID, userID, initialQuantity int64, ttl time.Duration) (reservation.ReserveResponse, error) {
			gotInitial = initialQuantity
			gotTTL = ttl
			return reservation.ReserveResponse{Result: reservation.Reserved, RemainingAfter: 97}, nil
		},
	}
	pub := &mockPublisher{}
	svc := newTestReservationService(activeCoupon(), store, pub)

	resp, err := svc.Reserve(context.Background(), 5, 42)

	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Sequence)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, int64(100), gotInitial)
	assert.Equal(t, 24*time.Hour, gotTTL)

	require.Len(t, pub.published, 1)
	assert.Equal(t, model.IssueRequest{CouponID: 5, UserID: 42, RequestID: "req-1", RequestedAt: testNow}, pub.published[0])
	assert.Zero(t, store.compensateCalls)
}

func TestReservationService_Reserve_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		result  reservation.Result
		wantErr error
	}{
		{"sold out", reservation.SoldOut, ErrSoldOut},
		{"already reserved", reservation.AlreadyReserved, ErrAlreadyReserved},
		{"already issued", reservation.AlreadyIssued, ErrAlreadyIssued},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{
				reserveFn: func(ctx context.Context, couponID, userID, initialQuantity int64, ttl time.Duration) (reservation.ReserveResponse, error) {
					return reservation.ReserveResponse{Result: tt.result}, nil
				},
			}
			pub := &mockPublisher{}
			svc := newTestReservationService(activeCoupon(), store, pub)

			resp, err := svc.Reserve(context.Background(), 5, 42)

			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, pub.published, "rejections must not publish")
		})
	}
}

func TestReservationService_Reserve_ValidityWindow(t *testing.T) {
	notStarted := activeCoupon()
	notStarted.StartAt = testNow.Add(time.Minute)

	expired := activeCoupon()
	expired.EndAt = testNow.Add(-time.Minute)

	tests := []struct {
		name    string
		coupon  *model.Coupon
		wantErr error
	}{
		{"not found", nil, ErrCouponNotFound},
		{"not started", notStarted, ErrCouponNotStarted},
		{"expired", expired, ErrExpiredCoupon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reserveCalled := false
			store := &mockStore{
				reserveFn: func(ctx context.Context, couponID, userID, initialQuantity int64, ttl time.Duration) (reservation.ReserveResponse, error) {
					reserveCalled = true
					return reservation.ReserveResponse{}, nil
				},
			}
			svc := newTestReservationService(tt.coupon, store, &mockPublisher{})

			_, err := svc.Reserve(context.Background(), 5, 42)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, reserveCalled, "store must not be touched before eligibility passes")
		})
	}
}

func TestReservationService_Reserve_InvalidIDs(t *testing.T) {
	svc := newTestReservationService(activeCoupon(), &mockStore{}, &mockPublisher{})

	_, err := svc.Reserve(context.Background(), 0, 42)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Reserve(context.Background(), 5, -1)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestReservationService_Reserve_StoreUnavailable(t *testing.T) {
	storeErr := errors.New("dial tcp: connection refused")
	store := &mockStore{
		reserveFn: func(ctx context.Context, couponID, userID, initialQuantity int64, ttl time.Duration) (reservation.ReserveResponse, error) {
			return reservation.ReserveResponse{}, storeErr
		},
	}
	svc := newTestReservationService(activeCoupon(), store, &mockPublisher{})

	_, err := svc.Reserve(context.Background(), 5, 42)

	assert.ErrorIs(t, err, ErrReservationUnavailable)
	assert.ErrorIs(t, err, storeErr)
	assert.False(t, errors.Is(err, ErrSoldOut), "store failure must never read as sold out")
}

func TestReservationService_Reserve_ContextCancelled(t *testing.T) {
	store := &mockStore{
		reserveFn: func(ctx context.Context, couponID, userID, initialQuantity int64, ttl time.Duration) (reservation.ReserveResponse, error) {
			return reservation.ReserveResponse{}, context.Canceled
		},
	}
	svc := newTestReservationService(activeCoupon(), store, &mockPublisher{})

	_, err := svc.Reserve(context.Background(), 5, 42)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrReservationUnavailable))
}

func TestReservationService_Reserve_PublishFailureReleasesSlot(t *testing.T) {
	pubErr := errors.New("kafka: leader not available")
	pub := &mockPublisher{}
	var compensated [2]int64
	store := &mockStore{
		compensateFn: func(ctx context.Context, couponID, userID int64) (bool, error) {
			require.NoError(t, ctx.Err(), "release must not inherit a cancelled request context")
			compensated = [2]int64{couponID, userID}
			return true, nil
		},
	}
	svc := newTestReservationService(activeCoupon(), store, pub)

	ctx, cancel := context.WithCancel(context.Background())
	pub.publishFn = func(context.Context, model.IssueRequest) error {
		cancel()
		return pubErr
	}

	resp, err := svc.Reserve(ctx, 5, 42)

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.ErrorIs(t, err, pubErr)
	assert.Equal(t, 1, store.compensateCalls)
	assert.Equal(t, [2]int64{5, 42}, compensated)
}

func TestReservationService_Reserve_PublishAndReleaseFailure(t *testing.T) {
	pub := &mockPublisher{
		publishFn: func(ctx context.Context, req model.IssueRequest) error {
			return errors.New("broker down")
		},
	}
	store := &mockStore{
		compensateFn: func(ctx context.Context, couponID, userID int64) (bool, error) {
			return false, errors.New("redis down")
		},
	}
	svc := newTestReservationService(activeCoupon(), store, pub)

	_, err := svc.Reserve(context.Background(), 5, 42)

	assert.ErrorIs(t, err, ErrPublishFailed)
}

func TestReservationService_Status(t *testing.T) {
	store := &mockStore{
		snapshotFn: func(ctx context.Context, couponID, userID int64) (reservation.Snapshot, error) {
			return reservation.Snapshot{Status: reservation.StatusReserved, Remaining: 12}, nil
		},
	}
	svc := newTestReservationService(activeCoupon(), store, &mockPublisher{})

	resp, err := svc.Status(context.Background(), 5, 42)

	require.NoError(t, err)
	assert.Equal(t, "RESERVED", resp.Status)
	assert.Equal(t, int64(12), resp.Remaining)
}

func TestReservationService_Status_UninitializedCounter(t *testing.T) {
	svc := newTestReservationService(activeCoupon(), &mockStore{}, &mockPublisher{})

	resp, err := svc.Status(context.Background(), 5, 42)

	require.NoError(t, err)
	assert.Equal(t, "NONE", resp.Status)
	assert.Equal(t, int64(100), resp.Remaining)
}

func TestReservationService_Status_CouponNotFound(t *testing.T) {
	svc := newTestReservationService(nil, &mockStore{}, &mockPublisher{})

	_, err := svc.Status(context.Background(), 5, 42)
	assert.ErrorIs(t, err, ErrCouponNotFound)
}
