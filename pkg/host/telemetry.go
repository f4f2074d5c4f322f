package host

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry wraps the ambient OpenTelemetry tracer/meter the Host emits a
// span and RED (rate/errors/duration) metrics to on every capability call.
// It deliberately stops at the base otel API rather than pulling in an SDK
// or exporter: a Telemetry built over otel's default global providers is a
// safe no-op, and the tracer and instruments only do real work once the
// embedding process registers an SDK via
// otel.SetTracerProvider/otel.SetMeterProvider.
type Telemetry struct {
	tracer       trace.Tracer
	callCounter  metric.Int64Counter
	errorCounter metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewTelemetry builds a Telemetry instrument set from the currently
// registered global OpenTelemetry providers.
func NewTelemetry() *Telemetry {
	tracer := otel.Tracer("ccos/host")
	meter := otel.Meter("ccos/host")

	callCounter, _ := meter.Int64Counter("ccos.host.capability_calls",
		metric.WithDescription("capability calls executed by the Runtime Host"))
	errorCounter, _ := meter.Int64Counter("ccos.host.capability_errors",
		metric.WithDescription("capability calls that returned an error"))
	durationHist, _ := meter.Float64Histogram("ccos.host.capability_duration_ms",
		metric.WithDescription("capability call duration in milliseconds"))

	return &Telemetry{
		tracer:       tracer,
		callCounter:  callCounter,
		errorCounter: errorCounter,
		durationHist: durationHist,
	}
}

// startSpan begins a span for one capability call and returns the derived
// context plus a function that ends the span and records RED metrics; call
// the returned function exactly once with the call's outcome.
func (t *Telemetry) startSpan(ctx context.Context, capabilityID string) (context.Context, func(err error, durationMs float64)) {
	if t == nil {
		return ctx, func(error, float64) {}
	}

	ctx, span := t.tracer.Start(ctx, "ccos.execute_capability", trace.WithAttributes(
		attribute.String("ccos.capability_id", capabilityID),
	))

	return ctx, func(err error, durationMs float64) {
		attrs := metric.WithAttributes(attribute.String("ccos.capability_id", capabilityID))
		if t.callCounter != nil {
			t.callCounter.Add(ctx, 1, attrs)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if t.errorCounter != nil {
				t.errorCounter.Add(ctx, 1, attrs)
			}
		}
		if t.durationHist != nil {
			t.durationHist.Record(ctx, durationMs, attrs)
		}
		span.End()
	}
}
