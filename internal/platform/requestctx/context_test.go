package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerFallsBackToNoop(t *testing.T) {
	ctx := context.Background()
	assert.False(t, HasLogger(ctx))
	assert.NotNil(t, Logger(ctx))

	logger := zap.NewExample()
	ctx = WithLogger(ctx, logger)
	assert.True(t, HasLogger(ctx))
	assert.Same(t, logger, Logger(ctx))

	cleared := WithLogger(ctx, nil)
	assert.False(t, HasLogger(cleared))
}

func TestWithFieldsScopesStoredLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := WithLogger(context.Background(), zap.New(core))

	ctx = WithFields(ctx, zap.String("user_id", "user-1"))
	Logger(ctx).Info("order created")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "user-1", entries[0].ContextMap()["user_id"])
	}

	bare := context.Background()
	assert.Equal(t, bare, WithFields(bare, zap.String("user_id", "user-1")))
}

func TestTraceInfo(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))

	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", SpanID: "1", Sampled: true})
	info, ok := Trace(ctx)
	assert.True(t, ok)
	assert.Equal(t, TraceInfo{TraceID: "abc", SpanID: "1", Sampled: true}, info)
	assert.Equal(t, "abc", TraceID(ctx))
}
