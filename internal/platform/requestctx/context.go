// Package requestctx carries the per-request logger and trace metadata through context.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
)

var noop = zap.NewNop()

// TraceInfo is the Cloud Trace context parsed from the incoming request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores logger on ctx. A nil logger clears any logger set further up.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noop
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger never returns nil; without a stored logger it hands back a no-op one.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := stored(ctx); ok {
		return logger
	}
	return noop
}

// HasLogger reports whether a real logger was stored on ctx.
func HasLogger(ctx context.Context) bool {
	_, ok := stored(ctx)
	return ok
}

// WithFields scopes the stored logger with extra fields, e.g. the caller's user id. It is a no-op
// when no logger is set so that background callers stay quiet.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	logger, ok := stored(ctx)
	if !ok || len(fields) == 0 {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger.With(fields...))
}

func stored(ctx context.Context) (*zap.Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	logger, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	if !ok || logger == nil || logger == noop {
		return nil, false
	}
	return logger, true
}

// WithTrace stores the parsed trace context on ctx.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID returns the trace id, or "" when the request carried none.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
