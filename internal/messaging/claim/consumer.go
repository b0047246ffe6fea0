package claim

import (
	"context"
	"encoding/json"
	"log/slog"

	domain "crypify/internal/domain/claim"
	"crypify/internal/kafka"
)

// Handler reacts to decoded claim events.
type Handler interface {
	HandleClaim(ctx context.Context, event domain.Event) error
}

// HandlerFunc makes ordinary functions usable as claim handlers.
type HandlerFunc func(ctx context.Context, event domain.Event) error

// HandleClaim implements Handler.
func (f HandlerFunc) HandleClaim(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

// Consumer wraps a low-level Kafka consumer and decodes claim events.
type Consumer struct {
	consumer *kafka.Consumer
}

// NewConsumer wires the handler through the low-level consumer.
func NewConsumer(brokers []string, groupID, topic string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	cons, err := kafka.NewConsumer(brokers, groupID, topic, Decode(handler, logger), logger)
	if err != nil {
		return nil, err
	}
	return &Consumer{consumer: cons}, nil
}

// Decode adapts a claim handler to raw Kafka payloads. Undecodable payloads are logged
// and skipped.
func Decode(handler Handler, logger *slog.Logger) kafka.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, msg kafka.Message) error {
		var event domain.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Warn("claim consumer decode error",
				slog.String("key", msg.Key),
				slog.Int64("offset", msg.Offset),
				slog.Any("error", err),
			)
			return nil
		}
		return handler.HandleClaim(ctx, event)
	}
}

// Start begins consuming events.
func (c *Consumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Close cleans up resources.
func (c *Consumer) Close() error {
	return c.consumer.Close()
}
