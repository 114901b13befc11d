package otel

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewClientMetrics_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewClientMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewClientMetrics: %v", err)
	}
	ctx := context.Background()
	m.Requests.Add(ctx, 2)
	m.Refreshes.Add(ctx, 1)
	m.ForcedLogouts.Add(ctx, 1)
	m.Latency.Record(ctx, 0.25)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
		}
	}
	for _, want := range []string{
		"eventsphere.client.requests",
		"eventsphere.client.refreshes",
		"eventsphere.client.forced_logouts",
		"eventsphere.client.request.duration",
	} {
		if !names[want] {
			t.Errorf("metric %q not collected", want)
		}
	}
}
