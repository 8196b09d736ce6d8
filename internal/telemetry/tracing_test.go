package telemetry

import (
	"context"
	"testing"

	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func restoreProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestSetupDisabled(t *testing.T) {
	restoreProvider(t)
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), domain.TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupRecordsSpans(t *testing.T) {
	restoreProvider(t)
	recorder := tracetest.NewSpanRecorder()

	shutdown, err := Setup(context.Background(), domain.TracingConfig{
		Enabled:      true,
		ServiceName:  "creditline-test",
		ExporterType: "none",
	}, recorder)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "check-eligibility")
	assert.True(t, span.SpanContext().TraceID().IsValid())
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "check-eligibility", ended[0].Name())

	var service string
	for _, kv := range ended[0].Resource().Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "creditline-test", service)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupUnsupportedExporter(t *testing.T) {
	restoreProvider(t)
	_, err := Setup(context.Background(), domain.TracingConfig{Enabled: true, ExporterType: "zipkin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zipkin")
}
