package scheduler_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentflow/internal/engine"
	"contentflow/internal/logging"
	"contentflow/internal/queue"
	"contentflow/internal/scheduler"
	"contentflow/internal/services"
	"contentflow/internal/services/fake"
	"contentflow/internal/testsupport"
)

type harness struct {
	store *queue.Store
	sched *scheduler.Scheduler
	clock *testsupport.Clock
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	clock := testsupport.NewClock()
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	set, _, _, _ := fake.NewSet()
	eng := engine.New(store, set, logging.NewNop(), engine.WithClock(clock.Now))
	return &harness{
		store: store,
		sched: scheduler.New(cfg, eng, logging.NewNop(), scheduler.WithClock(clock.Now)),
		clock: clock,
	}
}

func TestAdmitCreatesQueuedRecord(t *testing.T) {
	h := newHarness(t)
	rec, err := h.sched.Admit(context.Background(), "demo", "X")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusQueued, rec.Status)
	assert.Equal(t, "demo", rec.Brand)
	assert.Equal(t, "X", rec.ContentRef)
}

func TestAdmitValidatesInput(t *testing.T) {
	h := newHarness(t)
	cases := map[string][2]string{
		"empty brand":   {"", "X"},
		"bad brand":     {"Demo Brand", "X"},
		"empty content": {"demo", "  "},
		"huge content":  {"demo", strings.Repeat("x", 9<<10)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.sched.Admit(context.Background(), in[0], in[1])
			require.ErrorIs(t, err, services.ErrValidation)
		})
	}
	all, err := h.store.QueryByStatus(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAdmitEnforcesDailyCap(t *testing.T) {
	h := newHarness(t, testsupport.WithBrandLimits("demo", 2, 0))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.sched.Admit(ctx, "demo", "X")
		require.NoError(t, err)
	}
	_, err := h.sched.Admit(ctx, "demo", "X")
	require.ErrorIs(t, err, queue.ErrCapacityExceeded)

	all, err := h.store.QueryByStatus(ctx, "demo")
	require.NoError(t, err)
	assert.Len(t, all, 2, "refused admission must not create a record")

	_, err = h.sched.Admit(ctx, "other", "X")
	require.NoError(t, err, "caps are per brand")

	h.clock.Advance(15 * time.Hour)
	_, err = h.sched.Admit(ctx, "demo", "X")
	require.NoError(t, err, "cap resets at UTC midnight")
}

func TestConcurrentAdmissionsNeverOvershoot(t *testing.T) {
	h := newHarness(t, testsupport.WithBrandLimits("demo", 3, 0))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.sched.Admit(context.Background(), "demo", "X"); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, admitted)
}

func TestReleaseRespectsConcurrencyCap(t *testing.T) {
	h := newHarness(t, testsupport.WithBrandLimits("demo", 0, 1))
	ctx := context.Background()

	first, err := h.sched.Admit(ctx, "demo", "first")
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	_, err = h.sched.Admit(ctx, "demo", "second")
	require.NoError(t, err)

	n, err := h.sched.ReleaseNextQueued(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.sched.ReleaseNextQueued(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := h.store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRendering, got.Status)
	assert.Equal(t, "R1", got.JobID())
}

func TestReleaseAllCoversEveryBrand(t *testing.T) {
	h := newHarness(t,
		testsupport.WithBrandLimits("alpha", 0, 2),
		testsupport.WithBrandLimits("beta", 0, 1),
	)
	ctx := context.Background()
	for _, brand := range []string{"alpha", "alpha", "alpha", "beta", "beta"} {
		_, err := h.sched.Admit(ctx, brand, "X")
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}

	released, err := h.sched.ReleaseAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, released)

	queued, err := h.store.QueryByStatus(ctx, "", queue.StatusQueued)
	require.NoError(t, err)
	assert.Len(t, queued, 2)

	released, err = h.sched.ReleaseAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)
}
