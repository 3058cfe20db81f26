package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "contentflow"

// Metrics holds the orchestration counters. A nil *Metrics records nothing.
type Metrics struct {
	transitions metric.Int64Counter
	webhooks    metric.Int64Counter
	admissions  metric.Int64Counter
	sweeps      metric.Int64Counter
	recovered   metric.Int64Counter
}

// New registers the counters on meter. A nil meter uses the global provider,
// which records nothing until an SDK provider is installed.
func New(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	m := &Metrics{}
	var err error
	if m.transitions, err = meter.Int64Counter("contentflow.workflow.transitions",
		metric.WithDescription("Workflow status changes"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, fmt.Errorf("create transitions counter: %w", err)
	}
	if m.webhooks, err = meter.Int64Counter("contentflow.webhook.events",
		metric.WithDescription("Inbound webhook events by outcome"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("create webhook counter: %w", err)
	}
	if m.admissions, err = meter.Int64Counter("contentflow.scheduler.admissions",
		metric.WithDescription("Admission attempts by result"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("create admissions counter: %w", err)
	}
	if m.sweeps, err = meter.Int64Counter("contentflow.recovery.sweeps",
		metric.WithDescription("Recovery sweeps by outcome"),
		metric.WithUnit("{sweep}"),
	); err != nil {
		return nil, fmt.Errorf("create sweeps counter: %w", err)
	}
	if m.recovered, err = meter.Int64Counter("contentflow.recovery.records",
		metric.WithDescription("Records handled by the recovery sweep by action"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, fmt.Errorf("create recovery counter: %w", err)
	}
	return m, nil
}

// Transition counts one status change.
func (m *Metrics) Transition(ctx context.Context, brand, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("brand", brand),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// Webhook counts one inbound event.
func (m *Metrics) Webhook(ctx context.Context, stage, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
}

// Admission counts one admission attempt.
func (m *Metrics) Admission(ctx context.Context, brand, result string) {
	if m == nil {
		return
	}
	m.admissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("brand", brand),
		attribute.String("result", result),
	))
}

// Sweep counts one recovery sweep and the records it touched.
func (m *Metrics) Sweep(ctx context.Context, skipped bool, recovered, failed int) {
	if m == nil {
		return
	}
	outcome := "ran"
	if skipped {
		outcome = "skipped"
	}
	m.sweeps.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if recovered > 0 {
		m.recovered.Add(ctx, int64(recovered), metric.WithAttributes(attribute.String("action", "recovered")))
	}
	if failed > 0 {
		m.recovered.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("action", "failed")))
	}
}
