package hooks

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Skryldev/sketch/core"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// ZapLogger adapts a zap logger to core.Logger.  Fields are alternating
// key/value pairs, as accepted by zap's sugared "w" methods.
type ZapLogger struct {
	log *zap.SugaredLogger
}

var _ core.Logger = (*ZapLogger)(nil)

// NewZapLogger builds a logger at level ("debug", "info", "warn", "error").
// format "json" selects the production encoder, anything else the
// development console encoder.
func NewZapLogger(level, format string) (*ZapLogger, error) {
	var config zap.Config
	if format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))
	config.DisableCaller = true
	config.DisableStacktrace = true

	l, err := config.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLoggerFrom(l), nil
}

// NewZapLoggerFrom wraps an existing *zap.Logger.
func NewZapLoggerFrom(l *zap.Logger) *ZapLogger { return &ZapLogger{log: l.Sugar()} }

// NopLogger discards everything.
func NopLogger() *ZapLogger { return NewZapLoggerFrom(zap.NewNop()) }

func (z *ZapLogger) Debug(msg string, fields ...interface{}) { z.log.Debugw(msg, fields...) }
func (z *ZapLogger) Info(msg string, fields ...interface{})  { z.log.Infow(msg, fields...) }
func (z *ZapLogger) Warn(msg string, fields ...interface{})  { z.log.Warnw(msg, fields...) }
func (z *ZapLogger) Error(msg string, fields ...interface{}) { z.log.Errorw(msg, fields...) }

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error { return z.log.Sync() }

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
