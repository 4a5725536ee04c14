package log

import (
	"context"

	"go.uber.org/zap"
)

type logCtxKey int

// IntoContext attaches a logger to the context.
func IntoContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, logCtxKey(0), logger)
}

// FromContext returns the logger attached to the context, falling back to
// the global logger. The protocol engine logs per-frame detail at Debug, so
// the fallback is silent.
func FromContext(ctx context.Context) *zap.Logger {
	if val := ctx.Value(logCtxKey(0)); val != nil {
		return val.(*zap.Logger)
	}
	return zap.L()
}
