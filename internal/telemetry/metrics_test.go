package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	// Should not panic
	m.PushSent(ctx, "retention_nudge")
	m.PushFailed(ctx, "retention_nudge")
	m.PushSkipped(ctx, "retention_nudge", "quiet_hours")
	m.SessionClosed(ctx)
}

func TestMetrics_RecordsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m, err := NewMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.PushSent(ctx, "premium_welcome")
	m.PushSent(ctx, "retention_nudge")
	m.PushSkipped(ctx, "retention_nudge", "daily_cap")
	m.SessionClosed(ctx)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[md.Name] += dp.Value
			}
		}
	}
	want := map[string]int64{"pushes.sent": 2, "pushes.skipped": 1, "sessions.closed": 1}
	for name, v := range want {
		if totals[name] != v {
			t.Errorf("%s = %d, want %d", name, totals[name], v)
		}
	}
	if totals["pushes.failed"] != 0 {
		t.Errorf("pushes.failed = %d, want 0", totals["pushes.failed"])
	}
}
