package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level can be changed at run time; every logger built by a Factory shares it.
var Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

type Factory struct {
	base *zap.Logger
}

func (f *Factory) Create(name string) *zap.Logger {
	return f.base.Named(name)
}

func (f *Factory) Sync() {
	_ = f.base.Sync()
}

// NewFactory builds the process logger. format is "console" or "json".
func NewFactory(level, format string) (*Factory, error) {
	if err := Level.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		Level.SetLevel(zapcore.InfoLevel)
	}

	encoding := "console"
	encodeLevel := zapcore.CapitalColorLevelEncoder
	if strings.EqualFold(format, "json") {
		encoding = "json"
		encodeLevel = zapcore.LowercaseLevelEncoder
	}

	cfg := zap.Config{
		Level:            Level,
		Development:      false,
		Encoding:         encoding,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "name",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Factory{base: logger}, nil
}

// NewNopFactory is used by tests and tools that do not want output.
func NewNopFactory() *Factory {
	return &Factory{base: zap.NewNop()}
}
