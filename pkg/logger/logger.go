// Package logger builds the zap loggers used by the notification engine
// and carries them through context.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel parses a level name. Unknown names fall back to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Options configures the logger.
type Options struct {
	// Level is the minimum enabled level name: debug, info, warn, error.
	Level string

	// Format is "json" for production or "console" for local runs.
	Format string

	// Output defaults to stdout.
	Output io.Writer

	AddCaller bool
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Level:     "info",
		Format:    "json",
		Output:    os.Stdout,
		AddCaller: true,
	}
}

// New creates a zap logger with the given options.
func New(opts Options) *zap.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	var encoder zapcore.Encoder
	if opts.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(opts.Output), zap.NewAtomicLevelAt(ParseLevel(opts.Level)))

	var zapOpts []zap.Option
	if opts.AddCaller {
		zapOpts = append(zapOpts, zap.AddCaller())
	}
	return zap.New(core, zapOpts...)
}

// Default creates a logger with default options.
func Default() *zap.Logger {
	return New(DefaultOptions())
}

type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// RequestIDKey is the field key for request tracing.
const RequestIDKey = "request_id"

// Domain field helpers.
func RequestID(id string) zap.Field      { return zap.String(RequestIDKey, id) }
func NotificationID(id string) zap.Field { return zap.String("notification_id", id) }
func AccountID(id string) zap.Field      { return zap.String("account_id", id) }
func Channel(name string) zap.Field      { return zap.String("channel", name) }
func Attempt(n int) zap.Field            { return zap.Int("attempt", n) }
func Component(name string) zap.Field    { return zap.String("component", name) }
func Operation(name string) zap.Field    { return zap.String("operation", name) }
func Latency(d time.Duration) zap.Field  { return zap.Duration("latency", d) }
