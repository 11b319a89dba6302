package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ExporterNone     = "none"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterOTLPHTTP = "otlp-http"
	ExporterStdout   = "stdout"
)

// Config configures the tracer provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Exporter      string
	Endpoint      string
	SamplingRatio float64
	// AlwaysSample lists span name fragments that bypass the ratio.
	AlwaysSample []string
}

func (c Config) enabled() bool {
	e := strings.ToLower(strings.TrimSpace(c.Exporter))
	return e != "" && e != ExporterNone
}

// NewProvider builds and registers the global tracer provider. With no
// exporter the provider samples nothing.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (*sdktrace.TracerProvider, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", strings.TrimSpace(cfg.ServiceName)),
		attribute.String("service.version", strings.TrimSpace(cfg.ServiceVersion)),
		attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
	)

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.enabled() {
		exporter, err := newExporter(cfg.Exporter, cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(sdktrace.ParentBased(NewRouteSampler(cfg.SamplingRatio, cfg.AlwaysSample))),
		)
	} else {
		opts = append(opts, sdktrace.WithSampler(sdktrace.NeverSample()))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}
	if log != nil && cfg.enabled() {
		log.Info("tracing initialized",
			zap.String("exporter", cfg.Exporter),
			zap.String("endpoint", cfg.Endpoint),
			zap.Strings("always_sample", cfg.AlwaysSample),
		)
	}

	return provider, nil
}

func newExporter(kind, endpoint string) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		}
		return otlptracehttp.New(context.Background(), opts...)
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", kind)
	}
}

// RouteSampler keeps every span whose name contains one of the configured
// fragments and samples the rest by trace id ratio. Purchase and checkout
// beacons are rare and worth keeping in full.
type RouteSampler struct {
	always []string
	ratio  sdktrace.Sampler
	desc   string
}

func NewRouteSampler(ratio float64, always []string) *RouteSampler {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.1
	}
	frags := make([]string, 0, len(always))
	for _, a := range always {
		if a = strings.TrimSpace(a); a != "" {
			frags = append(frags, a)
		}
	}
	return &RouteSampler{
		always: frags,
		ratio:  sdktrace.TraceIDRatioBased(ratio),
		desc:   fmt.Sprintf("RouteSampler{ratio=%g,always=%s}", ratio, strings.Join(frags, "|")),
	}
}

func (s *RouteSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, frag := range s.always {
		if strings.Contains(p.Name, frag) {
			return sdktrace.AlwaysSample().ShouldSample(p)
		}
	}
	return s.ratio.ShouldSample(p)
}

func (s *RouteSampler) Description() string { return s.desc }
