// Package tracing wires up the OpenTelemetry SDK's trace pipeline: an
// OTLP exporter (http or grpc) when an endpoint is configured, a no-op
// tracer otherwise. internal/client and internal/processor both pull
// their tracer from this package rather than calling otel.Tracer
// directly, so every span carries the same service resource.
package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/wmo-raf/wis2watch/internal/config"
)

// Tracer is the span source internal/client and internal/processor
// start spans from. Init replaces it with one bound to a real
// TracerProvider; until Init runs (and whenever tracing is disabled) it
// is otel's default no-op tracer, so every call site works unconfigured.
var Tracer trace.Tracer = otel.Tracer("wis2watch")

// Init builds an OTLP trace exporter from cfg and installs it as the
// global TracerProvider, refreshing Tracer to use it. An empty
// cfg.Endpoint leaves Tracer as the no-op default and returns a shutdown
// func that does nothing. The returned func must be called on daemon
// shutdown to flush any spans still buffered by the batcher.
func Init(ctx context.Context, cfg config.OTLPConfig) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		return noop, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: build exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	Tracer = tp.Tracer("wis2watch")

	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg config.OTLPConfig) (sdktrace.SpanExporter, error) {
	protocol := strings.ToLower(cfg.Protocol)
	if protocol == "" {
		protocol = "http"
	}
	if protocol == "grpc" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(ctx, opts...)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return otlptracehttp.New(ctx, opts...)
}
