package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap with run-scoped helpers used across the engine.
type Logger struct {
	*zap.Logger
}

// Option adjusts the logger configuration before it is built.
type Option func(*zap.Config)

// WithLevel sets the minimum level, e.g. "debug" or "warn". Unknown levels
// are ignored and the default (info) is kept.
func WithLevel(level string) Option {
	return func(config *zap.Config) {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return
		}

		config.Level = zap.NewAtomicLevelAt(parsed)
	}
}

// WithDevelopment switches to the human-readable console encoder.
func WithDevelopment() Option {
	return func(config *zap.Config) {
		config.Encoding = "console"
		config.Development = true
	}
}

// NewLogger creates a production logger writing JSON to stdout.
func NewLogger(opts ...Option) (*Logger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	for _, opt := range opts {
		opt(&config)
	}

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: zapLogger}, nil
}

// NewNopLogger creates a logger that discards all output. Useful in tests.
func NewNopLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithRun returns a child logger stamped with the run ID, so every entry
// emitted while executing a backtest carries it.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("run_id", runID))}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	if l.Logger != nil {
		return l.Logger.Sync()
	}

	return nil
}
