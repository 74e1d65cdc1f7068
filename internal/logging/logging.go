// Package logging carries a structured logger through a context.Context,
// wired underneath with zap.
package logging

import (
	"context"

	"go.uber.org/zap"
)

////////////////////////////////////////////////////////////////////////////////

type loggerKey struct{}

////////////////////////////////////////////////////////////////////////////////

// SetLogger attaches logger to ctx, returning the derived context.
func SetLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger returns the logger attached to ctx, or a no-op logger if
// none was attached. Callers never need to nil-check the result.
func GetLogger(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.NewNop()
}

// AddCallerSkip returns a context whose logger skips an extra stack
// frame when reporting its own call site (used when a thin wrapper
// forwards logging calls on behalf of its caller).
func AddCallerSkip(ctx context.Context, skip int) context.Context {
	return SetLogger(ctx, GetLogger(ctx).WithOptions(zap.AddCallerSkip(skip)))
}

////////////////////////////////////////////////////////////////////////////////

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger(ctx).Debug(msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger(ctx).Info(msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger(ctx).Warn(msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger(ctx).Error(msg, fields...)
}
