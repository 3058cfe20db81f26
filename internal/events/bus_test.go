package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentflow/internal/events"
	"contentflow/internal/logging"
)

func TestBusDeliversToEverySubscriber(t *testing.T) {
	bus := events.NewBus(logging.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	second, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	want := events.Transition{WorkflowID: "wf-1", Brand: "demo", From: "queued", To: "rendering", Stage: "render"}
	require.NoError(t, bus.Publish(want))

	for _, ch := range []<-chan events.Transition{first, second} {
		select {
		case got := <-ch:
			assert.Equal(t, want.WorkflowID, got.WorkflowID)
			assert.Equal(t, "rendering", got.To)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for transition")
		}
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	bus := events.NewBus(logging.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *events.Bus
	assert.NoError(t, bus.Publish(events.Transition{WorkflowID: "wf"}))
}
