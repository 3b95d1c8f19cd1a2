package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/customeriq/internal/domain"
)

// TracingAuditTrail wraps a domain.AuditTrail with OpenTelemetry tracing.
type TracingAuditTrail struct {
	next   domain.AuditTrail
	tracer trace.Tracer
}

var _ domain.AuditTrail = (*TracingAuditTrail)(nil)

// NewTracingAuditTrail creates a tracing decorator around the given audit trail.
func NewTracingAuditTrail(next domain.AuditTrail) *TracingAuditTrail {
	return &TracingAuditTrail{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (a *TracingAuditTrail) Append(ctx context.Context, rec domain.TransitionRecord) (domain.TransitionRecord, error) {
	ctx, span := a.tracer.Start(ctx, "AuditTrail.Append",
		trace.WithAttributes(
			attribute.String("customer.id", rec.CustomerID),
			attribute.String("transition.to", string(rec.To)),
		),
	)
	defer span.End()

	stored, err := a.next.Append(ctx, rec)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int64("transition.seq", stored.Seq))
	}
	return stored, err
}

func (a *TracingAuditTrail) History(ctx context.Context, customerID string) ([]domain.TransitionRecord, error) {
	ctx, span := a.tracer.Start(ctx, "AuditTrail.History",
		trace.WithAttributes(attribute.String("customer.id", customerID)),
	)
	defer span.End()

	records, err := a.next.History(ctx, customerID)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(records)))
	}
	return records, err
}

func (a *TracingAuditTrail) Latest(ctx context.Context, customerID string) (domain.TransitionRecord, bool, error) {
	ctx, span := a.tracer.Start(ctx, "AuditTrail.Latest",
		trace.WithAttributes(attribute.String("customer.id", customerID)),
	)
	defer span.End()

	rec, ok, err := a.next.Latest(ctx, customerID)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Bool("result.found", ok))
	}
	return rec, ok, err
}

// CountCounted is the recount behind reconciliation passes.
func (a *TracingAuditTrail) CountCounted(ctx context.Context, startPeriod, endPeriod string) ([]domain.CounterBucket, error) {
	ctx, span := a.tracer.Start(ctx, "AuditTrail.CountCounted",
		trace.WithAttributes(
			attribute.String("period.start", startPeriod),
			attribute.String("period.end", endPeriod),
		),
	)
	defer span.End()

	buckets, err := a.next.CountCounted(ctx, startPeriod, endPeriod)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(buckets)))
	}
	return buckets, err
}
