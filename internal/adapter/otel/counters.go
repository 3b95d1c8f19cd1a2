package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/customeriq/internal/domain"
)

// TracingCounterStore wraps a domain.CounterStore with OpenTelemetry tracing.
type TracingCounterStore struct {
	next   domain.CounterStore
	tracer trace.Tracer
}

var _ domain.CounterStore = (*TracingCounterStore)(nil)

// NewTracingCounterStore creates a tracing decorator around the given store.
func NewTracingCounterStore(next domain.CounterStore) *TracingCounterStore {
	return &TracingCounterStore{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func keyAttributes(key domain.CounterKey) trace.SpanStartEventOption {
	return trace.WithAttributes(
		attribute.String("counter.period", key.Period),
		attribute.String("counter.category", key.Category),
	)
}

func (s *TracingCounterStore) Increment(ctx context.Context, key domain.CounterKey) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "CounterStore.Increment", keyAttributes(key))
	defer span.End()

	n, err := s.next.Increment(ctx, key)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int64("counter.value", n))
	}
	return n, err
}

func (s *TracingCounterStore) Add(ctx context.Context, key domain.CounterKey, delta int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "CounterStore.Add", keyAttributes(key))
	defer span.End()
	span.SetAttributes(attribute.Int64("counter.delta", delta))

	n, err := s.next.Add(ctx, key, delta)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int64("counter.value", n))
	}
	return n, err
}

func (s *TracingCounterStore) Get(ctx context.Context, key domain.CounterKey) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "CounterStore.Get", keyAttributes(key))
	defer span.End()

	n, err := s.next.Get(ctx, key)
	recordError(span, err)
	return n, err
}

func (s *TracingCounterStore) ListByPeriodRange(ctx context.Context, startPeriod, endPeriod string) ([]domain.CounterBucket, error) {
	ctx, span := s.tracer.Start(ctx, "CounterStore.ListByPeriodRange",
		trace.WithAttributes(
			attribute.String("period.start", startPeriod),
			attribute.String("period.end", endPeriod),
		),
	)
	defer span.End()

	buckets, err := s.next.ListByPeriodRange(ctx, startPeriod, endPeriod)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(buckets)))
	}
	return buckets, err
}
