package tracing

import (
	"context"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes finished spans to the logger at debug level.
type LogExporter struct {
	logger ectologger.Logger
}

// NewLogExporter creates a span exporter backed by logger.
func NewLogExporter(logger ectologger.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"span":     span.Name(),
			"trace_id": span.SpanContext().TraceID().String(),
			"duration": span.EndTime().Sub(span.StartTime()).String(),
			"status":   span.Status().Code.String(),
		}).Debug("span finished")
	}
	return nil
}

func (e *LogExporter) Shutdown(ctx context.Context) error {
	return nil
}

// Setup installs a tracer provider for serviceName and returns its shutdown func.
func Setup(serviceName string, logger ectologger.Logger) func(context.Context) error {
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(NewLogExporter(logger)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	SetTracer(provider.Tracer(serviceName))
	return provider.Shutdown
}
