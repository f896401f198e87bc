package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewFactorySetsLevel(t *testing.T) {
	t.Cleanup(func() { Level.SetLevel(zapcore.InfoLevel) })

	factory, err := NewFactory("debug", "json")
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	if Level.Level() != zapcore.DebugLevel {
		t.Fatalf("expected debug level, got %s", Level.Level())
	}
	if logger := factory.Create("queue"); logger == nil {
		t.Fatalf("expected named logger")
	}
}

func TestNewFactoryFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() { Level.SetLevel(zapcore.InfoLevel) })

	if _, err := NewFactory("loud", "console"); err != nil {
		t.Fatalf("new factory: %v", err)
	}
	if Level.Level() != zapcore.InfoLevel {
		t.Fatalf("expected info level, got %s", Level.Level())
	}
}
