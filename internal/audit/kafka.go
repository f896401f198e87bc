package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink streams audit entries to a topic keyed by user id.
type KafkaSink struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("audit write failed", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return &KafkaSink{writer: writer, logger: logger}
}

func (s *KafkaSink) Record(ctx context.Context, entry Entry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	value, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("encode audit entry", zap.Error(err))
		return
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.UserID),
		Value: value,
	}); err != nil {
		s.logger.Warn("audit write failed", zap.String("message", entry.Message), zap.Error(err))
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
