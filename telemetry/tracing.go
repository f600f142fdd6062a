package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wippyai/wasm-space/config"
)

// ServiceName identifies this host in traces.
const ServiceName = "wasm-space"

// Tracing owns the tracer provider.
type Tracing struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracing creates a tracer from cfg. Disabled tracing yields a no-op
// tracer with no provider to shut down. Spans of the stdout exporter are
// written to w.
func NewTracing(cfg config.TelemetryConfig, w io.Writer) (*Tracing, error) {
	if !cfg.Tracing {
		return &Tracing{tracer: noop.NewTracerProvider().Tracer(ServiceName)}, nil
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", ServiceName),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}

	switch cfg.Exporter {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithSyncer(exp))
	case "none", "":
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.Exporter)
	}

	provider := sdktrace.NewTracerProvider(opts...)
	return &Tracing{provider: provider, tracer: provider.Tracer(ServiceName)}, nil
}

// Tracer returns the tracer spans are started from.
func (t *Tracing) Tracer() trace.Tracer {
	return t.tracer
}

// Enabled reports whether spans are recorded.
func (t *Tracing) Enabled() bool {
	return t.provider != nil
}

// Shutdown flushes and stops the provider.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
