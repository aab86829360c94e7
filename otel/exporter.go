package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ExporterConfig configures the OTLP/HTTP trace export pipeline.
type ExporterConfig struct {
	// Endpoint is the collector host:port.
	Endpoint string

	// ServiceName identifies scribe in exported traces. Default "scribe".
	ServiceName string

	// Insecure disables TLS for local collectors.
	Insecure bool
}

// Setup installs a global tracer provider exporting to the configured OTLP
// collector. The returned shutdown function flushes pending spans and must
// be called before exit.
func Setup(ctx context.Context, cfg ExporterConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("otel: exporter endpoint is required")
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "scribe"
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel: create OTLP exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}
