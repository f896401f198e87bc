package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

type Entry struct {
	UserID  string            `json:"user_id,omitempty"`
	Message string            `json:"message"`
	Level   string            `json:"level"`
	Meta    map[string]string `json:"meta,omitempty"`
	Time    time.Time         `json:"time"`
}

// Sink records audit entries. Record must not block the caller for long and
// never reports failure; sinks log their own errors.
type Sink interface {
	Record(ctx context.Context, entry Entry)
}

// LogSink writes entries to the service log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, entry Entry) {
	fields := make([]zap.Field, 0, len(entry.Meta)+1)
	fields = append(fields, zap.String("user_id", entry.UserID))
	for key, value := range entry.Meta {
		fields = append(fields, zap.String(key, value))
	}
	switch entry.Level {
	case LevelError:
		s.logger.Error(entry.Message, fields...)
	case LevelWarn:
		s.logger.Warn(entry.Message, fields...)
	default:
		s.logger.Info(entry.Message, fields...)
	}
}
