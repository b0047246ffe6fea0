package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"crypify/internal/observability/metrics"
)

// Message is one record read from the claim topic. Key carries the purchase id the
// producer partitioned on.
type Message struct {
	Key       string
	Value     []byte
	Topic     string
	Partition int32
	Offset    int64
}

// MessageHandler reacts to consumed messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message) error
}

// HandlerFunc allows using functions as MessageHandler.
type HandlerFunc func(ctx context.Context, msg Message) error

// HandleMessage satisfies MessageHandler.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Consumer reads one topic as a member of a consumer group.
type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler MessageHandler
	logger  *slog.Logger
}

// NewConsumer joins groupID on the given brokers. New groups start from the oldest
// offset so a fresh ledger replays every settled claim.
func NewConsumer(brokers []string, groupID, topic string, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_5_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	group, err := sarama.NewConsumerGroup(cleanBrokers(brokers), groupID, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("group", groupID), slog.String("topic", topic))
	return &Consumer{group: group, topic: topic, handler: handler, logger: logger}, nil
}

// Start consumes until ctx is canceled, rejoining the group after every rebalance.
func (c *Consumer) Start(ctx context.Context) error {
	session := &groupSession{handler: c.handler, logger: c.logger}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, session); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Info("claim consumer rebalanced")
	}
}

// Close leaves the group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupSession struct {
	handler MessageHandler
	logger  *slog.Logger
}

func (s *groupSession) Setup(sess sarama.ConsumerGroupSession) error {
	s.logger.Info("claim consumer joined",
		slog.Int("generation", int(sess.GenerationID())),
		slog.Any("partitions", sess.Claims()),
	)
	return nil
}

func (s *groupSession) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim commits every message after one handling attempt.
func (s *groupSession) ConsumeClaim(sess sarama.ConsumerGroupSession, partition sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for raw := range partition.Messages() {
		s.process(ctx, toMessage(raw))
		sess.MarkMessage(raw, "")
	}
	return nil
}

// process runs the handler once and logs a failure against the message coordinates.
// It reports whether the handler succeeded.
func (s *groupSession) process(ctx context.Context, msg Message) bool {
	start := time.Now()
	defer func() { metrics.ObserveKafkaOperation("consumer_message", time.Since(start)) }()
	if err := s.handler.HandleMessage(ctx, msg); err != nil {
		s.logger.Error("claim event not recorded",
			slog.String("key", msg.Key),
			slog.Int("partition", int(msg.Partition)),
			slog.Int64("offset", msg.Offset),
			slog.Any("error", err),
		)
		return false
	}
	return true
}

func toMessage(m *sarama.ConsumerMessage) Message {
	return Message{
		Key:       string(m.Key),
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
	}
}
