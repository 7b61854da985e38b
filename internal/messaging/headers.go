package messaging

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
)

// Dead-letter headers added on top of the original message headers.
const (
	HeaderErrorKind         = "x-error-kind"
	HeaderAttemptCount      = "x-attempt-count"
	HeaderLastError         = "x-last-error"
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
)

// maxErrorHeaderLen keeps x-last-error well under broker message limits.
const maxErrorHeaderLen = 1024

func injectTrace(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

func extractTrace(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		carrier[h.Key] = string(h.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// ParseDeadLetter reads the dead-letter headers of msg. Request is left
// zero-valued; the caller decodes Raw.
func ParseDeadLetter(msg kafka.Message) model.DeadLetter {
	attempts, _ := strconv.Atoi(headerValue(msg.Headers, HeaderAttemptCount))
	return model.DeadLetter{
		Raw:          msg.Value,
		ErrorKind:    headerValue(msg.Headers, HeaderErrorKind),
		AttemptCount: attempts,
		LastError:    headerValue(msg.Headers, HeaderLastError),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
