package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Options configures the telemetry providers installed by [Init].
type Options struct {
	// ServiceName is reported in telemetry resources. Default: "voxweave".
	ServiceName string

	// ServiceVersion is reported alongside the service name.
	ServiceVersion string

	// SpanExporter, when set, receives finished request spans in batches.
	// When nil, spans exist only in-process (the correlation id and log
	// enrichment still work).
	SpanExporter sdktrace.SpanExporter
}

// Init installs the global OpenTelemetry meter and tracer providers. Metrics
// flow into the default Prometheus registry, which /metrics scrapes. The
// returned function flushes and shuts both providers down; call it from a
// defer in main.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "voxweave"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	reader, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if opts.SpanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(opts.SpanExporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
