package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"contentflow/internal/telemetry"
)

func TestMetricsRecordOnNoopMeter(t *testing.T) {
	m, err := telemetry.New(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.Transition(ctx, "demo", "queued", "rendering")
		m.Webhook(ctx, "render", "accepted")
		m.Admission(ctx, "demo", "admitted")
		m.Sweep(ctx, false, 2, 1)
	})
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *telemetry.Metrics
	assert.NotPanics(t, func() {
		m.Transition(context.Background(), "demo", "queued", "rendering")
		m.Sweep(context.Background(), true, 0, 0)
	})
}

func TestNewDefaultsToGlobalMeter(t *testing.T) {
	m, err := telemetry.New(nil)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
