package notify

import (
	"context"
	"fmt"
	"time"

	"production-ledger/internal/outbox"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStreamSink appends each message to the stream Prefix+topic. The outbox
// message ID travels with the entry so consumers can drop redeliveries.
type RedisStreamSink struct {
	client *redis.Client
	prefix string
	maxLen int64
}

func NewRedisStreamSink(client *redis.Client, prefix string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, prefix: prefix, maxLen: maxLen}
}

var _ outbox.Sink = (*RedisStreamSink)(nil)

func (s *RedisStreamSink) Stream(topic string) string {
	return s.prefix + topic
}

func (s *RedisStreamSink) Deliver(ctx context.Context, msg outbox.Message) error {
	args := &redis.XAddArgs{
		Stream: s.Stream(msg.Topic),
		Values: map[string]any{
			"id":         msg.ID,
			"key":        msg.Key,
			"payload":    string(msg.Payload),
			"created_at": msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}

// LogSink writes messages to the log. It stands in for a broker in local runs.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

var _ outbox.Sink = (*LogSink)(nil)

func (s *LogSink) Deliver(_ context.Context, msg outbox.Message) error {
	s.logger.Info("outbound message",
		zap.String("id", msg.ID),
		zap.String("topic", msg.Topic),
		zap.String("key", msg.Key),
		zap.ByteString("payload", msg.Payload))
	return nil
}

// NewRedisClient builds the client for RedisStreamSink.
func NewRedisClient(addr, password string, db, poolSize int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
}
