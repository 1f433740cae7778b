package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// ServiceName identifies this process in telemetry backends.
	ServiceName = "opsplane"

	// InstrumentationName scopes the tracer and meter.
	InstrumentationName = "github.com/opsforge/opsplane"
)

var (
	tracer trace.Tracer
	meter  metric.Meter

	// DispatchCounter counts dispatches by verb, decision, and outcome.
	DispatchCounter metric.Int64Counter

	// DispatchDuration tracks end-to-end dispatch latency.
	DispatchDuration metric.Float64Histogram

	// ProviderRetryCounter counts provider call retries.
	ProviderRetryCounter metric.Int64Counter

	// ConfirmationIssuedCounter counts issued confirmation tokens.
	ConfirmationIssuedCounter metric.Int64Counter

	// ConfirmationRedeemedCounter counts token redemption attempts by result.
	ConfirmationRedeemedCounter metric.Int64Counter

	// AuditDroppedCounter counts audit records lost to saturation or sink
	// failure. Non-zero deltas here mean sequence gaps in the trail.
	AuditDroppedCounter metric.Int64Counter
)

// Init binds instruments to the process-global providers. Instrument
// creation failures are ignored; telemetry must never break the control
// plane.
func Init() {
	tracer = otel.GetTracerProvider().Tracer(InstrumentationName)
	meter = otel.GetMeterProvider().Meter(InstrumentationName)

	DispatchCounter, _ = meter.Int64Counter("opsplane.dispatch.count",
		metric.WithDescription("Number of dispatched operations"),
		metric.WithUnit("1"))
	DispatchDuration, _ = meter.Float64Histogram("opsplane.dispatch.duration",
		metric.WithDescription("Dispatch latency"),
		metric.WithUnit("ms"))
	ProviderRetryCounter, _ = meter.Int64Counter("opsplane.provider.retries",
		metric.WithDescription("Provider call retries"),
		metric.WithUnit("1"))
	ConfirmationIssuedCounter, _ = meter.Int64Counter("opsplane.confirmation.issued",
		metric.WithDescription("Confirmation tokens issued"),
		metric.WithUnit("1"))
	ConfirmationRedeemedCounter, _ = meter.Int64Counter("opsplane.confirmation.redeemed",
		metric.WithDescription("Confirmation token redemption attempts"),
		metric.WithUnit("1"))
	AuditDroppedCounter, _ = meter.Int64Counter("opsplane.audit.dropped",
		metric.WithDescription("Audit records dropped before reaching a sink"),
		metric.WithUnit("1"))
}

// StartDispatchSpan opens a span for one dispatch.
func StartDispatchSpan(ctx context.Context, verb, service, environment string) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer(InstrumentationName)
	}
	return tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("opsplane.verb", verb),
			attribute.String("opsplane.service", service),
			attribute.String("opsplane.environment", environment),
		))
}

// RecordDispatch emits the counter and latency for one finished dispatch.
func RecordDispatch(ctx context.Context, verb, decision, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("verb", verb),
		attribute.String("decision", decision),
		attribute.String("outcome", outcome),
	)
	if DispatchCounter != nil {
		DispatchCounter.Add(ctx, 1, attrs)
	}
	if DispatchDuration != nil {
		DispatchDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}
}

// RecordAuditDrop emits one audit record lost to saturation or sink failure.
func RecordAuditDrop(ctx context.Context) {
	if AuditDroppedCounter != nil {
		AuditDroppedCounter.Add(ctx, 1)
	}
}

// RecordProviderRetry emits one retried provider call attempt.
func RecordProviderRetry(ctx context.Context) {
	if ProviderRetryCounter != nil {
		ProviderRetryCounter.Add(ctx, 1)
	}
}

// RecordConfirmationIssued emits one issued confirmation token.
func RecordConfirmationIssued(ctx context.Context, verb string) {
	if ConfirmationIssuedCounter != nil {
		ConfirmationIssuedCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("verb", verb)))
	}
}

// RecordRedemption emits one token redemption attempt.
func RecordRedemption(ctx context.Context, result string) {
	if ConfirmationRedeemedCounter != nil {
		ConfirmationRedeemedCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("result", result)))
	}
}
