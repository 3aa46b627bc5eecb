package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NewLogger(InfoLevel, &bytes.Buffer{}))

	assert.NoError(t, err)
	assert.Nil(t, providers)
}

// OTLP exporters connect lazily, so initialisation succeeds without a collector
func TestInitOTel_NoCollector(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})

	providers, err := InitOTel(context.Background(), OTelConfig{
		Enabled:  true,
		Endpoint: "localhost:14317",
		Insecure: true,
	}, logger)
	require.NoError(t, err)
	require.NotNil(t, providers)
	assert.NotNil(t, providers.TracerProvider)
	assert.NotNil(t, providers.MeterProvider)

	assert.NoError(t, ShutdownOTel(context.Background(), providers, logger))
}

func TestShutdownOTel_NilProviders(t *testing.T) {
	assert.NoError(t, ShutdownOTel(context.Background(), nil, NewLogger(InfoLevel, &bytes.Buffer{})))
	assert.NoError(t, ShutdownOTel(context.Background(), &OTelProviders{}, NewLogger(InfoLevel, &bytes.Buffer{})))
}

func TestOTelConfig_SampleRatio(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 1},
		{-1, 1},
		{2, 1},
		{0.25, 0.25},
		{1, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OTelConfig{SampleRatio: tt.in}.sampleRatio())
	}
}

func TestTracer_UsesGlobalProvider(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	_, span := Tracer().Start(context.Background(), "rbac.Resolve")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "rbac.Resolve", spans[0].Name())
	assert.Equal(t, InstrumentationName, spans[0].InstrumentationScope().Name)
}

func TestUpdateLoggerWithTraceContext(t *testing.T) {
	t.Run("no span leaves logger alone", func(t *testing.T) {
		logger := NewLogger(InfoLevel, &bytes.Buffer{})
		assert.Same(t, logger, UpdateLoggerWithTraceContext(context.Background(), logger))
	})

	t.Run("recording span adds ids", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(InfoLevel, &buf)

		tp := sdktrace.NewTracerProvider()
		defer tp.Shutdown(context.Background())
		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		UpdateLoggerWithTraceContext(ctx, logger).Info("traced")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
	})

	t.Run("non recording span", func(t *testing.T) {
		logger := NewLogger(InfoLevel, &bytes.Buffer{})
		ctx := trace.ContextWithSpan(context.Background(), trace.SpanFromContext(context.Background()))
		assert.Same(t, logger, UpdateLoggerWithTraceContext(ctx, logger))
	})
}
