package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
	"github.com/fairyhunter13/flash-coupon-system/internal/service"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

func issueMessage(t *testing.T, req model.IssueRequest, offset int64) kafka.Message {
	t.Helper()
	value, err := json.Marshal(req)
	require.NoError(t, err)
	return kafka.Message{
		Topic:     "coupon-issue-requested",
		Partition: 2,
		Offset:    offset,
		Key:       []byte(req.PartitionKey()),
		Value:     value,
		Headers:   []kafka.Header{{Key: "traceparent", Value: []byte("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")}},
	}
}

func runIssueConsumer(t *testing.T, msgs []kafka.Message, f Fulfiller, dlt *fakeWriter) (*fakeReader, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reader := &fakeReader{msgs: msgs, onDrain: cancel}
	c := NewIssueConsumer(reader, dlt, "coupon-issue-requested.DLT", f, fastRetry)
	err := c.Run(ctx)
	return reader, err
}

var sampleReq = model.IssueRequest{CouponID: 5, UserID: 42, RequestID: "req-1"}

func TestIssueConsumer_Success(t *testing.T) {
	f := &mockFulfiller{}
	dlt := &fakeWriter{}
	msg := issueMessage(t, sampleReq, 10)

	reader, err := runIssueConsumer(t, []kafka.Message{msg}, f, dlt)

	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)
	assert.Empty(t, dlt.messages)
	require.Len(t, reader.committed, 1)
	assert.Equal(t, int64(10), reader.committed[0].Offset)
	assert.True(t, reader.closed)
}

func TestIssueConsumer_DuplicateIsSuccess(t *testing.T) {
	f := &mockFulfiller{fn: func(call int, req model.IssueRequest) (service.FulfillmentResult, error) {
		return service.Duplicate, nil
	}}
	dlt := &fakeWriter{}

	reader, err := runIssueConsumer(t, []kafka.Message{issueMessage(t, sampleReq, 1)}, f, dlt)

	require.NoError(t, err)
	assert.Empty(t, dlt.messages, "redelivery must not be dead-lettered")
	assert.Len(t, reader.committed, 1)
}

func TestIssueConsumer_RetriesThenSucceeds(t *testing.T) {
	f := &mockFulfiller{fn: func(call int, req model.IssueRequest) (service.FulfillmentResult, error) {
		if call < 3 {
			return 0, fmt.Errorf("lock coupon: %w", service.ErrLockTimeout)
		}
		return service.Issued, nil
	}}
	dlt := &fakeWriter{}

	reader, err := runIssueConsumer(t, []kafka.Message{issueMessage(t, sampleReq, 1)}, f, dlt)

	require.NoError(t, err)
	assert.Equal(t, 3, f.calls)
	assert.Empty(t, dlt.messages)
	assert.Len(t, reader.committed, 1)
}

func TestIssueConsumer_ExhaustedRetriesDeadLetter(t *testing.T) {
	f := &mockFulfiller{fn: func(call int, req model.IssueRequest) (service.FulfillmentResult, error) {
		return 0, errors.New("connection reset by peer")
	}}
	dlt := &fakeWriter{}
	msg := issueMessage(t, sampleReq, 77)

	reader, err := runIssueConsumer(t, []kafka.Message{msg}, f, dlt)

	require.NoError(t, err)
	assert.Equal(t, 3, f.calls)
	require.Len(t, dlt.messages, 1)

	out := dlt.messages[0]
	assert.Equal(t, "coupon-issue-requested.DLT", out.Topic)
	assert.Equal(t, msg.Key, out.Key)
	assert.Equal(t, msg.Value, out.Value, "original payload must be forwarded unmodified")
	assert.Equal(t, "3", headerValue(out.Headers, HeaderAttemptCount))
	assert.Equal(t, service.KindTransient, headerValue(out.Headers, HeaderErrorKind))
	assert.Contains(t, headerValue(out.Headers, HeaderLastError), "connection reset by peer")
	assert.Equal(t, "coupon-issue-requested", headerValue(out.Headers, HeaderOriginalTopic))
	assert.Equal(t, "77", headerValue(out.Headers, HeaderOriginalOffset))
	assert.NotEmpty(t, headerValue(out.Headers, "traceparent"), "original headers are kept")

	dl := ParseDeadLetter(out)
	assert.Equal(t, 3, dl.AttemptCount)

	assert.Len(t, reader.committed, 1, "dead-lettered message is committed")
}

func TestIssueConsumer_PermanentFailureSkipsRetry(t *testing.T) {
	f := &mockFulfiller{fn: func(call int, req model.IssueRequest) (service.FulfillmentResult, error) {
		return 0, service.ErrCouponNotFound
	}}
	dlt := &fakeWriter{}

	_, err := runIssueConsumer(t, []kafka.Message{issueMessage(t, sampleReq, 1)}, f, dlt)

	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)
	require.Len(t, dlt.messages, 1)
	assert.Equal(t, "1", headerValue(dlt.messages[0].Headers, HeaderAttemptCount))
	assert.Equal(t, service.KindCouponNotFound, headerValue(dlt.messages[0].Headers, HeaderErrorKind))
}

func TestIssueConsumer_MalformedPayload(t *testing.T) {
	f := &mockFulfiller{}
	dlt := &fakeWriter{}
	msg := kafka.Message{Topic: "coupon-issue-requested", Offset: 3, Value: []byte("{not json")}

	reader, err := runIssueConsumer(t, []kafka.Message{msg}, f, dlt)

	require.NoError(t, err)
	assert.Zero(t, f.calls)
	require.Len(t, dlt.messages, 1)
	assert.Equal(t, []byte("{not json"), dlt.messages[0].Value)
	assert.Equal(t, service.KindMalformedMessage, headerValue(dlt.messages[0].Headers, HeaderErrorKind))
	assert.Len(t, reader.committed, 1)
}

func TestIssueConsumer_DeadLetterWriteFailureStopsWithoutCommit(t *testing.T) {
	f := &mockFulfiller{fn: func(call int, req model.IssueRequest) (service.FulfillmentResult, error) {
		return 0, service.ErrCouponNotFound
	}}
	dlt := &fakeWriter{err: errors.New("dlt broker down")}
	reader := &fakeReader{msgs: []kafka.Message{issueMessage(t, sampleReq, 1)}}

	c := NewIssueConsumer(reader, dlt, "coupon-issue-requested.DLT", f, fastRetry)
	err := c.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "dlt broker down")
	assert.Empty(t, reader.committed, "message must be redelivered")
}

func TestIssueConsumer_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewIssueConsumer(&fakeReader{}, &fakeWriter{}, "dlt", &mockFulfiller{}, fastRetry)
	assert.NoError(t, c.Run(ctx))
}

func TestRetryPolicy_BackOffBoundsAttempts(t *testing.T) {
	b := RetryPolicy{MaxAttempts: 3, Initial: time.Millisecond, Max: time.Millisecond}.backOff()
	b.Reset()

	retries := 0
	for b.NextBackOff() >= 0 {
		retries++
		require.Less(t, retries, 10)
	}
	assert.Equal(t, 2, retries, "three attempts means two retries")
}
