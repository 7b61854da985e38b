package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
	"github.com/fairyhunter13/flash-coupon-system/internal/service"
)

// Compensator reverses the admission behind a dead-lettered request.
// service.CompensationService implements it.
type Compensator interface {
	Compensate(ctx context.Context, couponID, userID int64) (service.CompensationResult, error)
}

// FailedEventRecorder persists dead-letters that need a human.
type FailedEventRecorder interface {
	Insert(ctx context.Context, ev *model.FailedEvent) error
}

// DeadLetterConsumer drains the dead-letter topic and compensates each
// request. Anything it cannot compensate is logged for manual intervention
// and recorded as a failed event; it is never retried past the policy.
type DeadLetterConsumer struct {
	reader      MessageReader
	topic       string
	compensator Compensator
	failed      FailedEventRecorder
	policy      RetryPolicy
	tracer      trace.Tracer
}

// NewDeadLetterConsumer creates a DeadLetterConsumer. topic is recorded as
// the event type of failed events.
func NewDeadLetterConsumer(reader MessageReader, topic string, compensator Compensator, failed FailedEventRecorder, policy RetryPolicy) *DeadLetterConsumer {
	return &DeadLetterConsumer{
		reader:      reader,
		topic:       topic,
		compensator: compensator,
		failed:      failed,
		policy:      policy,
		tracer:      otel.Tracer("coupon-dlt-compensator"),
	}
}

// Run consumes until ctx is cancelled.
func (c *DeadLetterConsumer) Run(ctx context.Context) error {
	defer func() { _ = c.reader.Close() }()

	log.Info().Str("topic", c.topic).Msg("dead-letter compensator started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch dead-letter: %w", err)
		}

		c.handle(ctx, msg)
		if ctx.Err() != nil {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Warn().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("commit failed, dead-letter will be redelivered")
		}
	}
}

func (c *DeadLetterConsumer) handle(ctx context.Context, msg kafka.Message) {
	msgCtx, span := c.tracer.Start(extractTrace(ctx, msg.Headers), "CompensateDeadLetter")
	defer span.End()

	dl := ParseDeadLetter(msg)
	if err := json.Unmarshal(dl.Raw, &dl.Request); err != nil {
		c.manualIntervention(msgCtx, msg, dl, fmt.Errorf("%w: %v", service.ErrMalformedMessage, err))
		return
	}
	if err := dl.Request.Validate(); err != nil {
		c.manualIntervention(msgCtx, msg, dl, fmt.Errorf("%w: %v", service.ErrMalformedMessage, err))
		return
	}

	var result service.CompensationResult
	op := func() error {
		var err error
		result, err = c.compensator.Compensate(msgCtx, dl.Request.CouponID, dl.Request.UserID)
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Int64("coupon_id", dl.Request.CouponID).Int64("user_id", dl.Request.UserID).
			Dur("next_retry_in", next).Msg("compensation failed, retrying")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.policy.backOff(), ctx), notify); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.manualIntervention(msgCtx, msg, dl, fmt.Errorf("compensate: %w", err))
		return
	}

	log.Info().
		Int64("coupon_id", dl.Request.CouponID).
		Int64("user_id", dl.Request.UserID).
		Str("request_id", dl.Request.RequestID).
		Str("error_kind", dl.ErrorKind).
		Int("attempt_count", dl.AttemptCount).
		Stringer("result", result).
		Msg("dead-letter handled")
}

func (c *DeadLetterConsumer) manualIntervention(ctx context.Context, msg kafka.Message, dl model.DeadLetter, err error) {
	log.Error().
		Err(err).
		Int64("coupon_id", dl.Request.CouponID).
		Int64("user_id", dl.Request.UserID).
		Str("request_id", dl.Request.RequestID).
		Str("error_kind", dl.ErrorKind).
		Str("last_error", dl.LastError).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Bool("manual_intervention", true).
		Msg("dead-letter could not be compensated")

	eventID := dl.Request.RequestID
	if eventID == "" {
		eventID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}
	ev := &model.FailedEvent{
		EventType:    c.topic,
		EventID:      eventID,
		Payload:      string(dl.Raw),
		ErrorMessage: truncate(err.Error(), maxErrorHeaderLen),
		RetryCount:   dl.AttemptCount,
		Status:       model.FailedEventPending,
	}
	if err := c.failed.Insert(ctx, ev); err != nil {
		log.Error().Err(err).Str("event_id", eventID).Str("payload", strconv.Quote(ev.Payload)).
			Bool("manual_intervention", true).Msg("failed event could not be recorded")
	}
}
