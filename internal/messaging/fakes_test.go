package messaging

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
	"github.com/fairyhunter13/flash-coupon-system/internal/service"
)

// fakeReader serves a fixed set of messages, then calls onDrain and blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
	onDrain   func()
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	drain := r.onDrain
	r.onDrain = nil
	r.mu.Unlock()

	if drain != nil {
		drain()
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// fakeWriter records written messages.
type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// mockFulfiller returns results from fn and counts calls.
type mockFulfiller struct {
	fn    func(call int, req model.IssueRequest) (service.FulfillmentResult, error)
	calls int
}

func (m *mockFulfiller) Fulfill(ctx context.Context, req model.IssueRequest) (service.FulfillmentResult, error) {
	m.calls++
	if m.fn != nil {
		return m.fn(m.calls, req)
	}
	return service.Issued, nil
}

// mockCompensator is a mock implementation of Compensator.
type mockCompensator struct {
	fn    func(ctx context.Context, couponID, userID int64) (service.CompensationResult, error)
	calls int
}

func (m *mockCompensator) Compensate(ctx context.Context, couponID, userID int64) (service.CompensationResult, error) {
	m.calls++
	if m.fn != nil {
		return m.fn(ctx, couponID, userID)
	}
	return service.Compensated, nil
}

// mockFailedEvents records inserted failed events.
type mockFailedEvents struct {
	events []*model.FailedEvent
	err    error
}

func (m *mockFailedEvents) Insert(ctx context.Context, ev *model.FailedEvent) error {
	m.events = append(m.events, ev)
	return m.err
}
