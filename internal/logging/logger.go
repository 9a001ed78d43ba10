// Package logging provides structured logging for gymsync.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap sugared logger behind a small structured API that
// takes free-form context maps.
type Logger struct {
	z *zap.SugaredLogger
}

var (
	// global logger instance
	global *Logger
	once   sync.Once
)

// Init initializes the global logger at the given level ("debug",
// "info", "warn", "error"). Unknown levels fall back to info.
func Init(level string) {
	once.Do(func() {
		global = newLogger(level)
	})
}

// Get returns the global logger instance.
func Get() *Logger {
	if global == nil {
		Init("info")
	}
	return global
}

func newLogger(level string) *Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	z, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z.Sugar()}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...map[string]any) {
	l.z.Debugw(message, kvPairs(nil, context)...)
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...map[string]any) {
	l.z.Infow(message, kvPairs(nil, context)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...map[string]any) {
	l.z.Warnw(message, kvPairs(nil, context)...)
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context ...map[string]any) {
	l.z.Errorw(message, kvPairs(err, context)...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// kvPairs flattens context maps (and an optional error) into zap's
// alternating key/value form.
func kvPairs(err error, context []map[string]any) []any {
	var kv []any
	if err != nil {
		kv = append(kv, "error", err.Error())
	}
	for _, c := range context {
		for k, v := range c {
			kv = append(kv, k, v)
		}
	}
	return kv
}

// Convenience functions using the global logger

func Debug(message string, context ...map[string]any) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]any) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]any) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...map[string]any) {
	Get().Error(message, err, context...)
}

func Sync() error {
	return Get().Sync()
}
