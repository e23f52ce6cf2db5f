package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTracerIsNoopWhenDisabled(t *testing.T) {
	t.Setenv("PASEO_TRACE_STDOUT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	require.False(t, tracingEnabled())
}

func TestTracingEnabledByStdoutVar(t *testing.T) {
	t.Setenv("PASEO_TRACE_STDOUT", "1")
	require.True(t, tracingEnabled())
}

func TestTracingEnabledByOTLPEndpointVar(t *testing.T) {
	t.Setenv("PASEO_TRACE_STDOUT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318")
	require.True(t, tracingEnabled())
}

func TestShutdownNoopWithoutSDKProvider(t *testing.T) {
	require.NoError(t, Shutdown(context.Background()))
}

func TestTracerReturnsUsableTracer(t *testing.T) {
	tr := Tracer("test")
	require.NotNil(t, tr)
	_, span := tr.Start(context.Background(), "noop-span")
	defer span.End()
	require.NotNil(t, span)
}
