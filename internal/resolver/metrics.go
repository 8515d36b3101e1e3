package resolver

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	created   metric.Int64Counter
	relocated metric.Int64Counter
	overlaps  metric.Int64Counter
}

// newMetrics creates the resolver instruments. Instruments that fail to
// register fall back to no-ops.
func newMetrics(m metric.Meter) *metrics {
	fallback := noop.NewMeterProvider().Meter(instrumentationName)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("1"))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}
	return &metrics{
		created:   counter("sessions.created", "Sessions inserted by the resolver"),
		relocated: counter("sessions.relocated", "Sessions whose create_time was moved backward"),
		overlaps:  counter("sessions.overlaps", "Creation events that overlapped an earlier session"),
	}
}
