// Package reservation implements the admission side of coupon issuance: a
// per-coupon remaining counter, per-user reservation markers and an issued
// set, all mutated only through Lua scripts so each operation is atomic.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of a reserve attempt.
type Result int

const (
	Reserved Result = iota + 1
	SoldOut
	AlreadyReserved
	AlreadyIssued
)

func (r Result) String() string {
	switch r {
	case Reserved:
		return "RESERVED"
	case SoldOut:
		return "SOLD_OUT"
	case AlreadyReserved:
		return "ALREADY_RESERVED"
	case AlreadyIssued:
		return "ALREADY_ISSUED"
	default:
		return "UNKNOWN"
	}
}

// ReserveResponse carries the result and, for Reserved, the counter value after the decrement.
type ReserveResponse struct {
	Result         Result
	RemainingAfter int64
}

// Sequence converts RemainingAfter into a 1-based admission number.
// It is advisory: compensations return slots and can reorder numbers.
func (r ReserveResponse) Sequence(initialQuantity int64) int64 {
	if r.Result != Reserved {
		return 0
	}
	return initialQuantity - r.RemainingAfter
}

// Status is the admission state of a single user for a coupon.
type Status string

const (
	StatusNone     Status = "NONE"
	StatusReserved Status = "RESERVED"
	StatusIssued   Status = "ISSUED"
)

// Snapshot is a point-in-time read of the admission record. Remaining is -1
// when the counter has not been initialized yet.
type Snapshot struct {
	Status    Status
	Remaining int64
}

// Script return codes shared with the Lua sources below.
const (
	codeSoldOut         = -1
	codeAlreadyReserved = -3
	codeAlreadyIssued   = -4
)

var reserveScript = redis.NewScript(`
local remainingKey = KEYS[1]
local issuedSetKey = KEYS[2]
local reservationKey = KEYS[3]
local reservationSetKey = KEYS[4]

local userId = ARGV[1]
local initialQuantity = tonumber(ARGV[2])
local reservationTtlMs = tonumber(ARGV[3])

if redis.call('SISMEMBER', issuedSetKey, userId) == 1 then
  return -4
end

if redis.call('EXISTS', reservationKey) == 1 then
  return -3
end

local remaining = redis.call('GET', remainingKey)
if remaining == false then
  redis.call('SET', remainingKey, initialQuantity)
  remaining = initialQuantity
end

if tonumber(remaining) <= 0 then
  return -1
end

local newRemaining = redis.call('DECR', remainingKey)
redis.call('SET', reservationKey, 'RESERVED', 'PX', reservationTtlMs)
redis.call('SADD', reservationSetKey, userId)
redis.call('PEXPIRE', reservationSetKey, reservationTtlMs)
return newRemaining
`)

var confirmScript = redis.NewScript(`
local issuedSetKey = KEYS[1]
local reservationKey = KEYS[2]
local reservationSetKey = KEYS[3]

local userId = ARGV[1]
local issuedTtlMs = tonumber(ARGV[2])

if redis.call('GET', reservationKey) ~= 'RESERVED' then
  return 0
end

redis.call('DEL', reservationKey)
redis.call('SREM', reservationSetKey, userId)
redis.call('SADD', issuedSetKey, userId)
redis.call('PEXPIRE', issuedSetKey, issuedTtlMs)
return 1
`)

var compensateScript = redis.NewScript(`
local remainingKey = KEYS[1]
local reservationKey = KEYS[2]
local reservationSetKey = KEYS[3]

local userId = ARGV[1]

if redis.call('GET', reservationKey) ~= 'RESERVED' then
  return 0
end

redis.call('DEL', reservationKey)
redis.call('SREM', reservationSetKey, userId)
redis.call('INCR', remainingKey)
return 1
`)

// Store executes the admission scripts against Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides the default "coupon" key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// NewStore creates a Store on top of the given Redis client.
func NewStore(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: "coupon"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Keys share the {couponID} hash tag so every script touches a single cluster slot.
func (s *Store) remainingKey(couponID int64) string {
	return fmt.Sprintf("%s:{%d}:remaining", s.prefix, couponID)
}

func (s *Store) issuedKey(couponID int64) string {
	return fmt.Sprintf("%s:{%d}:issued", s.prefix, couponID)
}

func (s *Store) reservationKey(couponID, userID int64) string {
	return fmt.Sprintf("%s:{%d}:reservation:%d", s.prefix, couponID, userID)
}

func (s *Store) reservationSetKey(couponID int64) string {
	return fmt.Sprintf("%s:{%d}:reservations", s.prefix, couponID)
}

// Reserve atomically admits userID if the user is neither issued nor reserved
// and the counter (lazily initialized to initialQuantity) is positive.
func (s *Store) Reserve(ctx context.Context, couponID, userID, initialQuantity int64, ttl time.Duration) (ReserveResponse, error) {
	keys := []string{
		s.remainingKey(couponID),
		s.issuedKey(couponID),
		s.reservationKey(couponID, userID),
		s.reservationSetKey(couponID),
	}
	n, err := reserveScript.Run(ctx, s.rdb, keys, userID, initialQuantity, ttlMillis(ttl)).Int64()
	if err != nil {
		return ReserveResponse{}, fmt.Errorf("reserve coupon %d for user %d: %w", couponID, userID, err)
	}

	switch n {
	case codeSoldOut:
		return ReserveResponse{Result: SoldOut}, nil
	case codeAlreadyReserved:
		return ReserveResponse{Result: AlreadyReserved, RemainingAfter: -1}, nil
	case codeAlreadyIssued:
		return ReserveResponse{Result: AlreadyIssued, RemainingAfter: -1}, nil
	}
	if n < 0 {
		return ReserveResponse{}, fmt.Errorf("reserve coupon %d for user %d: unexpected script result %d", couponID, userID, n)
	}
	return ReserveResponse{Result: Reserved, RemainingAfter: n}, nil
}

// ConfirmIssued moves userID from reserved to issued. It returns false, and
// changes nothing, when no reservation marker exists.
func (s *Store) ConfirmIssued(ctx context.Context, couponID, userID int64, issuedTTL time.Duration) (bool, error) {
	keys := []string{
		s.issuedKey(couponID),
		s.reservationKey(couponID, userID),
		s.reservationSetKey(couponID),
	}
	n, err := confirmScript.Run(ctx, s.rdb, keys, userID, ttlMillis(issuedTTL)).Int64()
	if err != nil {
		return false, fmt.Errorf("confirm coupon %d for user %d: %w", couponID, userID, err)
	}
	return n == 1, nil
}

// CompensateReservation drops userID's reservation and returns the slot to
// the counter. It returns false, and changes nothing, when no marker exists.
func (s *Store) CompensateReservation(ctx context.Context, couponID, userID int64) (bool, error) {
	keys := []string{
		s.remainingKey(couponID),
		s.reservationKey(couponID, userID),
		s.reservationSetKey(couponID),
	}
	n, err := compensateScript.Run(ctx, s.rdb, keys, userID).Int64()
	if err != nil {
		return false, fmt.Errorf("compensate coupon %d for user %d: %w", couponID, userID, err)
	}
	return n == 1, nil
}

// Snapshot reads the user's admission state and the coupon counter.
func (s *Store) Snapshot(ctx context.Context, couponID, userID int64) (Snapshot, error) {
	pipe := s.rdb.Pipeline()
	issued := pipe.SIsMember(ctx, s.issuedKey(couponID), userID)
	reserved := pipe.Exists(ctx, s.reservationKey(couponID, userID))
	remaining := pipe.Get(ctx, s.remainingKey(couponID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("snapshot coupon %d for user %d: %w", couponID, userID, err)
	}

	snap := Snapshot{Status: StatusNone, Remaining: -1}
	switch {
	case issued.Val():
		snap.Status = StatusIssued
	case reserved.Val() == 1:
		snap.Status = StatusReserved
	}
	if n, err := remaining.Int64(); err == nil {
		snap.Remaining = n
	} else if !errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("parse remaining for coupon %d: %w", couponID, err)
	}
	return snap, nil
}

// Ping checks connectivity to the underlying store.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func ttlMillis(d time.Duration) int64 {
	if ms := d.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}
