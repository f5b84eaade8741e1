package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	pushesSent     metric.Int64Counter
	pushesFailed   metric.Int64Counter
	pushesSkipped  metric.Int64Counter
	sessionsClosed metric.Int64Counter
}

// NewMetrics registers the counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error
	if m.pushesSent, err = meter.Int64Counter("pushes.sent",
		metric.WithDescription("Push jobs delivered to the channel")); err != nil {
		return nil, err
	}
	if m.pushesFailed, err = meter.Int64Counter("pushes.failed",
		metric.WithDescription("Push jobs that reached failed")); err != nil {
		return nil, err
	}
	if m.pushesSkipped, err = meter.Int64Counter("pushes.skipped",
		metric.WithDescription("Due push jobs left pending by throttling")); err != nil {
		return nil, err
	}
	if m.sessionsClosed, err = meter.Int64Counter("sessions.closed",
		metric.WithDescription("Sessions closed after the idle timeout")); err != nil {
		return nil, err
	}
	return &m, nil
}

// PushSent counts one delivered job of pushType.
func (m *Metrics) PushSent(ctx context.Context, pushType string) {
	if m == nil {
		return
	}
	m.pushesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("type", pushType)))
}

// PushFailed counts one job moved to failed.
func (m *Metrics) PushFailed(ctx context.Context, pushType string) {
	if m == nil {
		return
	}
	m.pushesFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("type", pushType)))
}

// PushSkipped counts one throttled job by reason (quiet_hours, daily_cap).
func (m *Metrics) PushSkipped(ctx context.Context, pushType, reason string) {
	if m == nil {
		return
	}
	m.pushesSkipped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", pushType),
		attribute.String("reason", reason),
	))
}

// SessionClosed counts one closed session.
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsClosed.Add(ctx, 1)
}
