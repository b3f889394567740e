package observability

import (
	"context"
	"time"

	"quotad/internal/dispatch"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedChecker wraps a dispatch.Checker with OpenTelemetry tracing and
// metrics. Every check records a span, a latency histogram, and an outcome
// counter; unavailable outcomes additionally mark the span as an error so
// cluster degradation is visible in traces, not just logs.
type InstrumentedChecker struct {
	inner    dispatch.Checker
	tracer   trace.Tracer
	duration metric.Float64Histogram
	outcomes metric.Int64Counter
}

// NewInstrumentedChecker creates the checker wrapper.
func NewInstrumentedChecker(inner dispatch.Checker) (*InstrumentedChecker, error) {
	tracer := otel.Tracer("quotad/limiter")
	meter := otel.Meter("quotad/limiter")

	duration, err := meter.Float64Histogram(
		"limiter.check.duration",
		metric.WithDescription("Duration of rate-limit checks in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	outcomes, err := meter.Int64Counter(
		"limiter.check.outcomes",
		metric.WithDescription("Rate-limit check results by outcome"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedChecker{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		outcomes: outcomes,
	}, nil
}

func (c *InstrumentedChecker) Check(ctx context.Context, key string) dispatch.Result {
	ctx, span := c.tracer.Start(ctx, "limiter.Check",
		trace.WithAttributes(attribute.String("limiter.key", key)),
	)
	start := time.Now()

	res := c.inner.Check(ctx, key)

	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.String("owner", res.OwnerID),
	)
	c.duration.Record(ctx, elapsed, attrs)
	c.outcomes.Add(ctx, 1, attrs)

	span.SetAttributes(
		attribute.String("limiter.outcome", string(res.Outcome)),
		attribute.String("limiter.owner", res.OwnerID),
		attribute.Int64("limiter.count", res.Count),
		attribute.Int64("limiter.window_id", res.WindowID),
	)
	if res.Outcome == dispatch.Unavailable {
		span.SetStatus(codes.Error, "limiter unavailable")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	return res
}
