package otel_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	adapter "github.com/neomorfeo/customeriq/internal/adapter/otel"
	"github.com/neomorfeo/customeriq/internal/app"
	"github.com/neomorfeo/customeriq/internal/domain"
)

func TestTransitionMetrics_CountsByOutcome(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := adapter.NewTransitionMetrics(mp)
	if err != nil {
		t.Fatalf("NewTransitionMetrics: %v", err)
	}

	ctx := context.Background()
	m.ObserveTransition(ctx, domain.StateNew, domain.StateCertified, app.OutcomeApplied)
	m.ObserveTransition(ctx, domain.StateNew, domain.StateCertified, app.OutcomeApplied)
	m.ObserveTransition(ctx, domain.StateCertified, domain.StateNew, app.OutcomeRejected)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	sum := findSum(t, rm, "customeriq.transitions")
	applied := attribute.NewSet(
		attribute.String("from", "NEW"),
		attribute.String("to", "CERTIFIED"),
		attribute.String("outcome", "applied"),
	)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
		if dp.Attributes.Equals(&applied) && dp.Value != 2 {
			t.Errorf("applied NEW -> CERTIFIED = %d, want 2", dp.Value)
		}
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("got %d series, want 2", len(sum.DataPoints))
	}
}

func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s has data %T, want Sum[int64]", name, m.Data)
			}
			return sum
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.Sum[int64]{}
}
