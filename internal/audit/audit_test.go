package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkKeysByUser(t *testing.T) {
	writer := &fakeWriter{}
	sink := &KafkaSink{writer: writer, logger: zap.NewNop()}

	sink.Record(context.Background(), Entry{
		UserID:  "u-1",
		Message: "ticket booked",
		Level:   LevelInfo,
		Meta:    map[string]string{"ticket_id": "t-1"},
	})

	require.Len(t, writer.messages, 1)
	assert.Equal(t, "u-1", string(writer.messages[0].Key))

	var entry Entry
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &entry))
	assert.Equal(t, "ticket booked", entry.Message)
	assert.Equal(t, "t-1", entry.Meta["ticket_id"])
	assert.False(t, entry.Time.IsZero())

	require.NoError(t, sink.Close())
	assert.True(t, writer.closed)
}

func TestKafkaSinkLogsWriteErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := &KafkaSink{writer: &fakeWriter{err: errors.New("no brokers")}, logger: zap.New(core)}

	sink.Record(context.Background(), Entry{UserID: "u-1", Message: "ticket cancelled", Level: LevelInfo})

	assert.Equal(t, 1, logs.FilterMessage("audit write failed").Len())
}

func TestLogSinkUsesEntryLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	sink.Record(context.Background(), Entry{UserID: "u", Message: "booked", Level: LevelInfo})
	sink.Record(context.Background(), Entry{UserID: "u", Message: "failed", Level: LevelError, Meta: map[string]string{"ticket_id": "t"}})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "t", entries[1].ContextMap()["ticket_id"])
}
