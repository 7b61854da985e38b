package model

import (
	"fmt"
	"time"
)

// IssueRequest is the message published after a successful reservation and
// consumed (at least once) by the fulfillment consumer.
type IssueRequest struct {
	CouponID    int64     `json:"coupon_id"`
	UserID      int64     `json:"user_id"`
	RequestID   string    `json:"request_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// PartitionKey keeps every message for the same (coupon, user) pair on one partition.
func (r IssueRequest) PartitionKey() string {
	return fmt.Sprintf("%d:%d", r.CouponID, r.UserID)
}

// Validate rejects messages that can never be fulfilled.
func (r IssueRequest) Validate() error {
	if r.CouponID <= 0 || r.UserID <= 0 {
		return fmt.Errorf("coupon_id and user_id must be positive (coupon_id=%d, user_id=%d)", r.CouponID, r.UserID)
	}
	if r.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	return nil
}

// DeadLetter is an issuance request that exhausted retries or failed permanently.
// Raw holds the original payload unmodified.
type DeadLetter struct {
	Request      IssueRequest
	Raw          []byte
	ErrorKind    string
	AttemptCount int
	LastError    string
}

// FailedEventStatus tracks manual handling of events the pipeline gave up on.
// Rows are written PENDING; operators move them on out of band.
type FailedEventStatus string

const FailedEventPending FailedEventStatus = "PENDING"

// FailedEvent is a dead-letter the compensator could not process automatically.
type FailedEvent struct {
	ID           int64
	EventType    string
	EventID      string
	Payload      string
	ErrorMessage string
	RetryCount   int
	Status       FailedEventStatus
	CreatedAt    time.Time
}
