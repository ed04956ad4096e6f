package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracer(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracer(ctx, "http://localhost:4318/v1/traces")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	_, span := Tracer().Start(ctx, "extract-keyframes")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}
