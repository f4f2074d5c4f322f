package discovery

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// discoveryTracer emits a span around each server probe so discovery fan-out
// is visible in the same trace as the Runtime Host call that triggered it
// (see pkg/host/telemetry.go for the fuller RED-metrics instance of the same
// tracer/meter shape). It is a package-level no-op until the embedding
// process registers a real OpenTelemetry SDK via otel.SetTracerProvider.
var discoveryTracer = otel.Tracer("ccos/mcp/discovery")

// traceDiscovery wraps op in a span named "ccos.discover_tools" tagged with
// the server name, recording the returned error (if any) on the span.
func traceDiscovery(ctx context.Context, serverName string, op func(ctx context.Context) error) error {
	ctx, span := discoveryTracer.Start(ctx, "ccos.discover_tools", trace.WithAttributes(
		attribute.String("ccos.mcp_server", serverName),
	))
	defer span.End()

	err := op(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
