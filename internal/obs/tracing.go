package obs

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const tracingServiceName = "checkout-api"

// TracingConfig controls tracer provider initialisation. The zero value is
// filled in from the OBS_TRACING_* environment variables by TracingFromEnv.
type TracingConfig struct {
	Enabled       bool
	Endpoint      string
	Exporter      string
	SamplingRatio float64
	Environment   string
}

// TracingFromEnv reads the tracing toggles from the environment. Tracing is
// on unless OBS_ENABLE_TRACING disables it.
func TracingFromEnv(environment string) TracingConfig {
	enabled := true
	if raw, ok := os.LookupEnv("OBS_ENABLE_TRACING"); ok {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "0", "f", "false", "no", "off":
			enabled = false
		}
	}
	ratio := 1.0
	if raw, ok := os.LookupEnv("OBS_TRACING_SAMPLING_RATIO"); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			ratio = parsed
		}
	}
	return TracingConfig{
		Enabled:       enabled,
		Endpoint:      strings.TrimSpace(os.Getenv("OBS_OTLP_ENDPOINT")),
		Exporter:      strings.TrimSpace(os.Getenv("OBS_TRACING_EXPORTER")),
		SamplingRatio: ratio,
		Environment:   environment,
	}
}

// SetupTracing initialises the global tracer provider for the checkout
// service and returns a shutdown function. A nil shutdown with a nil error
// means tracing is disabled.
func SetupTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	exporter := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	if exporter == "" {
		exporter = "otlp"
	}
	var (
		spanExporter sdktrace.SpanExporter
		err          error
	)
	switch exporter {
	case "otlp":
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		}
		spanExporter, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", exporter)
	}
	if err != nil {
		return nil, err
	}
	ratio := cfg.SamplingRatio
	if ratio <= 0 {
		ratio = 1
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tracingServiceName),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
