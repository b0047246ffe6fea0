package kafka

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
)

func TestToMessageKeepsClaimKey(t *testing.T) {
	msg := toMessage(&sarama.ConsumerMessage{
		Key:       []byte("PUR-1"),
		Value:     []byte(`{"tx_hash":"0xtx"}`),
		Topic:     "reward_claims",
		Partition: 2,
		Offset:    41,
	})
	assert.Equal(t, Message{
		Key:       "PUR-1",
		Value:     []byte(`{"tx_hash":"0xtx"}`),
		Topic:     "reward_claims",
		Partition: 2,
		Offset:    41,
	}, msg)
}

func TestProcessLogsFailedClaimEvent(t *testing.T) {
	var logs bytes.Buffer
	var seen []string
	s := &groupSession{
		logger: slog.New(slog.NewJSONHandler(&logs, nil)),
		handler: HandlerFunc(func(_ context.Context, msg Message) error {
			seen = append(seen, msg.Key)
			if msg.Key == "PUR-2" {
				return errors.New("ledger down")
			}
			return nil
		}),
	}

	assert.True(t, s.process(context.Background(), Message{Key: "PUR-1", Offset: 1}))
	assert.Empty(t, logs.String())

	assert.False(t, s.process(context.Background(), Message{Key: "PUR-2", Partition: 3, Offset: 2}))
	assert.Equal(t, []string{"PUR-1", "PUR-2"}, seen)
	assert.Contains(t, logs.String(), `"msg":"claim event not recorded"`)
	assert.Contains(t, logs.String(), `"key":"PUR-2"`)
	assert.Contains(t, logs.String(), `"partition":3`)
	assert.Contains(t, logs.String(), `"error":"ledger down"`)
}
