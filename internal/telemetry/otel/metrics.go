package otel

import (
	"go.opentelemetry.io/otel/metric"
)

// ClientMetrics holds the instruments recorded by the request pipeline and session manager.
type ClientMetrics struct {
	Requests      metric.Int64Counter
	Refreshes     metric.Int64Counter
	ForcedLogouts metric.Int64Counter
	Latency       metric.Float64Histogram
}

// NewClientMetrics creates the client instruments on meter.
func NewClientMetrics(meter metric.Meter) (*ClientMetrics, error) {
	requests, err := meter.Int64Counter("eventsphere.client.requests",
		metric.WithDescription("API requests issued, by method, attempt and status class"))
	if err != nil {
		return nil, err
	}
	refreshes, err := meter.Int64Counter("eventsphere.client.refreshes",
		metric.WithDescription("Refresh-token exchanges, by outcome"))
	if err != nil {
		return nil, err
	}
	forced, err := meter.Int64Counter("eventsphere.client.forced_logouts",
		metric.WithDescription("Sessions cleared because authorization could not be restored"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("eventsphere.client.request.duration",
		metric.WithDescription("API request latency"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &ClientMetrics{Requests: requests, Refreshes: refreshes, ForcedLogouts: forced, Latency: latency}, nil
}
