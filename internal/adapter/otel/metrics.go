package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "supportdesk"

// Metrics holds the routing instruments. A nil *Metrics records nothing.
type Metrics struct {
	messages        metric.Int64Counter
	handoffs        metric.Int64Counter
	acceptConflicts metric.Int64Counter
	answerFailures  metric.Int64Counter
	answerDuration  metric.Float64Histogram
	connections     metric.Int64UpDownCounter
	slowConsumers   metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.GetMeterProvider())
}

// NewMetricsFrom creates the instruments on mp.
func NewMetricsFrom(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.messages, err = meter.Int64Counter("supportdesk.messages.persisted",
		metric.WithDescription("Messages stored, by sender")); err != nil {
		return nil, err
	}
	if m.handoffs, err = meter.Int64Counter("supportdesk.handoff.requests",
		metric.WithDescription("Conversations queued for a human agent")); err != nil {
		return nil, err
	}
	if m.acceptConflicts, err = meter.Int64Counter("supportdesk.accept.conflicts",
		metric.WithDescription("Accept attempts lost to a concurrent accept or state change")); err != nil {
		return nil, err
	}
	if m.answerFailures, err = meter.Int64Counter("supportdesk.answer.failures",
		metric.WithDescription("Failed answering calls, by failure class")); err != nil {
		return nil, err
	}
	if m.answerDuration, err = meter.Float64Histogram("supportdesk.answer.duration_seconds",
		metric.WithDescription("Answering service latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.connections, err = meter.Int64UpDownCounter("supportdesk.ws.connections",
		metric.WithDescription("Live real-time connections")); err != nil {
		return nil, err
	}
	if m.slowConsumers, err = meter.Int64Counter("supportdesk.ws.slow_consumers",
		metric.WithDescription("Connections closed because their send buffer was full")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) MessagePersisted(ctx context.Context, tenantID, sender string) {
	if m == nil {
		return
	}
	m.messages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant.id", tenantID), attribute.String("sender", sender)))
}

func (m *Metrics) HandoffRequested(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.handoffs.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant.id", tenantID)))
}

func (m *Metrics) AcceptConflict(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.acceptConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant.id", tenantID)))
}

// AnswerFinished records one answering call. class is empty on success.
func (m *Metrics) AnswerFinished(ctx context.Context, tenantID, class string, d time.Duration) {
	if m == nil {
		return
	}
	tenant := attribute.String("tenant.id", tenantID)
	m.answerDuration.Record(ctx, d.Seconds(), metric.WithAttributes(tenant))
	if class != "" {
		m.answerFailures.Add(ctx, 1, metric.WithAttributes(tenant, attribute.String("class", class)))
	}
}

func (m *Metrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, 1)
}

func (m *Metrics) ConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, -1)
}

func (m *Metrics) SlowConsumer(ctx context.Context) {
	if m == nil {
		return
	}
	m.slowConsumers.Add(ctx, 1)
}
