package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/neomorfeo/customeriq/internal/app"
	"github.com/neomorfeo/customeriq/internal/domain"
)

// TransitionMetrics counts transition attempts by source, target and outcome.
type TransitionMetrics struct {
	transitions metric.Int64Counter
}

var _ app.TransitionObserver = (*TransitionMetrics)(nil)

// NewTransitionMetrics registers the customeriq.transitions instrument.
func NewTransitionMetrics(mp metric.MeterProvider) (*TransitionMetrics, error) {
	counter, err := mp.Meter(tracerName).Int64Counter("customeriq.transitions",
		metric.WithDescription("Customer state transition attempts"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transitions counter: %w", err)
	}
	return &TransitionMetrics{transitions: counter}, nil
}

func (m *TransitionMetrics) ObserveTransition(ctx context.Context, from, to domain.State, outcome app.Outcome) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
		attribute.String("outcome", string(outcome)),
	))
}
