package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/customeriq/internal/domain"
)

const tracerName = "github.com/neomorfeo/customeriq/internal/adapter/otel"

// TracingCustomerRepository wraps a domain.CustomerRepository with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
type TracingCustomerRepository struct {
	next   domain.CustomerRepository
	tracer trace.Tracer
}

var _ domain.CustomerRepository = (*TracingCustomerRepository)(nil)

// NewTracingCustomerRepository creates a tracing decorator around the given repository.
func NewTracingCustomerRepository(next domain.CustomerRepository) *TracingCustomerRepository {
	return &TracingCustomerRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingCustomerRepository) Create(ctx context.Context, c domain.Customer, genesis *domain.TransitionRecord) error {
	ctx, span := r.tracer.Start(ctx, "CustomerRepository.Create",
		trace.WithAttributes(
			attribute.String("customer.id", c.ID),
			attribute.String("customer.category", c.Category),
			attribute.Bool("audit.creation_record", genesis != nil),
		),
	)
	defer span.End()

	err := r.next.Create(ctx, c, genesis)
	recordError(span, err)
	return err
}

func (r *TracingCustomerRepository) Get(ctx context.Context, id string, scope domain.LookupScope) (domain.Customer, error) {
	ctx, span := r.tracer.Start(ctx, "CustomerRepository.Get",
		trace.WithAttributes(
			attribute.String("customer.id", id),
			attribute.Bool("lookup.include_deleted", scope == domain.IncludeDeleted),
		),
	)
	defer span.End()

	c, err := r.next.Get(ctx, id, scope)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(
			attribute.String("customer.state", string(c.State)),
			attribute.Int64("customer.version", c.Version),
		)
	}
	return c, err
}

func (r *TracingCustomerRepository) ApplyTransition(ctx context.Context, c domain.Customer, rec domain.TransitionRecord) (domain.Customer, domain.TransitionRecord, error) {
	attrs := []attribute.KeyValue{
		attribute.String("customer.id", c.ID),
		attribute.Int64("customer.version", c.Version),
		attribute.String("transition.to", string(rec.To)),
	}
	if rec.From != nil {
		attrs = append(attrs, attribute.String("transition.from", string(*rec.From)))
	}
	ctx, span := r.tracer.Start(ctx, "CustomerRepository.ApplyTransition", trace.WithAttributes(attrs...))
	defer span.End()

	updated, stored, err := r.next.ApplyTransition(ctx, c, rec)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int64("transition.seq", stored.Seq))
	}
	return updated, stored, err
}

func (r *TracingCustomerRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	ctx, span := r.tracer.Start(ctx, "CustomerRepository.SoftDelete",
		trace.WithAttributes(attribute.String("customer.id", id)),
	)
	defer span.End()

	err := r.next.SoftDelete(ctx, id, at)
	recordError(span, err)
	return err
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
