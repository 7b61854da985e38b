package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
	"github.com/fairyhunter13/flash-coupon-system/internal/service"
)

// Fulfiller settles one issuance request. service.FulfillmentService implements it.
type Fulfiller interface {
	Fulfill(ctx context.Context, req model.IssueRequest) (service.FulfillmentResult, error)
}

// IssueConsumer drains the issue topic. Each message is retried in place with
// backoff; permanent failures and exhausted retries go to the dead-letter topic
// with the original value and key.
type IssueConsumer struct {
	reader    MessageReader
	dlt       MessageWriter
	dltTopic  string
	fulfiller Fulfiller
	policy    RetryPolicy
	tracer    trace.Tracer
}

// NewIssueConsumer creates an IssueConsumer.
func NewIssueConsumer(reader MessageReader, dlt MessageWriter, dltTopic string, fulfiller Fulfiller, policy RetryPolicy) *IssueConsumer {
	return &IssueConsumer{
		reader:    reader,
		dlt:       dlt,
		dltTopic:  dltTopic,
		fulfiller: fulfiller,
		policy:    policy,
		tracer:    otel.Tracer("coupon-issue-consumer"),
	}
}

// Run consumes until ctx is cancelled. A message is committed only after it
// was fulfilled or dead-lettered; a failed dead-letter write stops the loop so
// the message is redelivered after restart.
func (c *IssueConsumer) Run(ctx context.Context) error {
	defer func() { _ = c.reader.Close() }()

	log.Info().Str("dlt_topic", c.dltTopic).Int("max_attempts", c.policy.MaxAttempts).Msg("issue consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch issue request: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Warn().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("commit failed, message will be redelivered")
		}
	}
}

func (c *IssueConsumer) handle(ctx context.Context, msg kafka.Message) error {
	msgCtx, span := c.tracer.Start(extractTrace(ctx, msg.Headers), "FulfillIssueRequest")
	defer span.End()

	var req model.IssueRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		err = fmt.Errorf("%w: %v", service.ErrMalformedMessage, err)
		span.RecordError(err)
		return c.deadLetter(msgCtx, msg, err, 1)
	}

	logger := log.With().
		Int64("coupon_id", req.CouponID).
		Int64("user_id", req.UserID).
		Str("request_id", req.RequestID).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	attempts := 0
	op := func() error {
		attempts++
		result, err := c.fulfiller.Fulfill(msgCtx, req)
		if err != nil {
			if service.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		logger.Debug().Int("attempt", attempts).Stringer("result", result).Msg("issue request settled")
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempts).Dur("next_retry_in", next).Msg("fulfillment failed, retrying")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(c.policy.backOff(), ctx), notify)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "dead-lettered")
	logger.Error().Err(err).Int("attempt", attempts).Str("error_kind", service.ErrorKind(err)).Msg("fulfillment gave up, dead-lettering")
	return c.deadLetter(msgCtx, msg, err, attempts)
}

func (c *IssueConsumer) deadLetter(ctx context.Context, msg kafka.Message, cause error, attempts int) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+6)
	for _, h := range msg.Headers {
		switch h.Key {
		case HeaderErrorKind, HeaderAttemptCount, HeaderLastError,
			HeaderOriginalTopic, HeaderOriginalPartition, HeaderOriginalOffset:
			continue
		}
		headers = append(headers, h)
	}
	headers = append(headers,
		kafka.Header{Key: HeaderErrorKind, Value: []byte(service.ErrorKind(cause))},
		kafka.Header{Key: HeaderAttemptCount, Value: []byte(strconv.Itoa(attempts))},
		kafka.Header{Key: HeaderLastError, Value: []byte(truncate(cause.Error(), maxErrorHeaderLen))},
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)

	out := kafka.Message{
		Topic:   c.dltTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if err := c.dlt.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("dead-letter offset %d: %w", msg.Offset, errors.Join(err, cause))
	}
	return nil
}
