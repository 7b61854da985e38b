package messaging

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds in-process redelivery of a failing message.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

// DefaultRetryPolicy is three attempts with exponential backoff from 200ms.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Initial: 200 * time.Millisecond, Max: 5 * time.Second}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}
