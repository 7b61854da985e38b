package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/fairyhunter13/flash-coupon-system/internal/model"
)

// Publisher writes issuance requests to the issue topic.
type Publisher struct {
	w     MessageWriter
	topic string
}

// NewPublisher creates a Publisher for topic.
func NewPublisher(w MessageWriter, topic string) *Publisher {
	return &Publisher{w: w, topic: topic}
}

// PublishIssueRequest blocks until the broker acknowledges the message.
func (p *Publisher) PublishIssueRequest(ctx context.Context, req model.IssueRequest) error {
	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal issue request: %w", err)
	}

	msg := kafka.Message{
		Topic:   p.topic,
		Key:     []byte(req.PartitionKey()),
		Value:   value,
		Headers: injectTrace(ctx, nil),
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish issue request %s: %w", req.RequestID, err)
	}
	return nil
}
