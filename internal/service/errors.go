package service

import (
	"context"
	"errors"
)

// Domain rejections. These are expected outcomes and are never retried.
var (
	// ErrCouponExists is returned when attempting to create a coupon whose code already exists
	ErrCouponExists = errors.New("coupon already exists")

	// ErrCouponNotFound is returned when a coupon cannot be found
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrInvalidRequest is returned when request data is invalid or incomplete
	ErrInvalidRequest = errors.New("invalid request")

	// ErrExpiredCoupon is returned when the coupon's validity window has ended
	ErrExpiredCoupon = errors.New("coupon expired")

	// ErrCouponNotStarted is returned when the coupon's validity window has not opened yet
	ErrCouponNotStarted = errors.New("coupon not started")

	// ErrSoldOut is returned when no slots remain
	ErrSoldOut = errors.New("coupon sold out")

	// ErrAlreadyReserved is returned when the user holds a pending reservation
	ErrAlreadyReserved = errors.New("coupon already reserved by user")

	// ErrAlreadyIssued is returned when the user already holds the coupon
	ErrAlreadyIssued = errors.New("coupon already issued to user")

	// ErrUserCouponNotFound is returned when the user does not hold the coupon
	ErrUserCouponNotFound = errors.New("user coupon not found")

	// ErrCouponNotUsable is returned when redeeming a coupon that is used or expired
	ErrCouponNotUsable = errors.New("coupon not usable")
)

// Infrastructure failures.
var (
	// ErrReservationUnavailable wraps reservation store failures. Callers must not read it as sold out.
	ErrReservationUnavailable = errors.New("reservation store unavailable")

	// ErrPublishFailed is returned when the issuance request could not be published after a reservation
	ErrPublishFailed = errors.New("issue request publish failed")

	// ErrLockTimeout is returned when a row lock or distributed lock could not be acquired in time
	ErrLockTimeout = errors.New("lock wait timeout")

	// ErrMalformedMessage is returned for messages that cannot be decoded or validated
	ErrMalformedMessage = errors.New("malformed message")
)

// Error kinds attached to dead-lettered messages.
const (
	KindCouponNotFound   = "COUPON_NOT_FOUND"
	KindSoldOut          = "SOLD_OUT"
	KindMalformedMessage = "MALFORMED_MESSAGE"
	KindTransient        = "TRANSIENT"
)

// IsPermanent reports whether retrying err can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrSoldOut) ||
		errors.Is(err, ErrMalformedMessage)
}

// ErrorKind classifies err for dead-letter tagging.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrCouponNotFound):
		return KindCouponNotFound
	case errors.Is(err, ErrSoldOut):
		return KindSoldOut
	case errors.Is(err, ErrMalformedMessage):
		return KindMalformedMessage
	default:
		return KindTransient
	}
}

// isContextErr reports whether err came from cancellation rather than the backend.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
