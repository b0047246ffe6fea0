package claim

import (
	"context"
	"encoding/json"

	domain "crypify/internal/domain/claim"
	"crypify/internal/kafka"
)

// Sender is the Kafka producer surface the publisher needs.
type Sender interface {
	Send(ctx context.Context, key string, payload []byte) error
}

// Publisher converts claim events into Kafka messages keyed by purchase id.
type Publisher struct {
	producer Sender
}

// NewPublisher constructs a Publisher.
func NewPublisher(producer Sender) *Publisher {
	return &Publisher{producer: producer}
}

var _ Sender = (*kafka.Producer)(nil)

// Publish implements domain.Publisher.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.producer.Send(ctx, event.PurchaseID, payload)
}
