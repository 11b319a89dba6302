package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestRouteSamplerKeepsPurchaseRoutes(t *testing.T) {
	s := NewRouteSampler(0.0000001, []string{"/purchase", " ", "/checkout"})
	traceID := trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

	kept := s.ShouldSample(sdktrace.SamplingParameters{TraceID: traceID, Name: "POST /v1/track/purchase"})
	assert.Equal(t, sdktrace.RecordAndSample, kept.Decision)

	dropped := s.ShouldSample(sdktrace.SamplingParameters{TraceID: traceID, Name: "POST /v1/track/pageview"})
	assert.Equal(t, sdktrace.Drop, dropped.Decision)

	assert.Contains(t, s.Description(), "/purchase|/checkout")
}

func TestRouteSamplerClampsRatio(t *testing.T) {
	assert.Contains(t, NewRouteSampler(0, nil).Description(), "ratio=0.1")
	assert.Contains(t, NewRouteSampler(3, nil).Description(), "ratio=0.1")
}

func TestNewExporterRejectsUnknownKind(t *testing.T) {
	_, err := newExporter("zipkin", "")
	assert.Error(t, err)
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.enabled())
	assert.False(t, Config{Exporter: ExporterNone}.enabled())
	assert.True(t, Config{Exporter: ExporterStdout}.enabled())
}
