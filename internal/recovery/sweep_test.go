package recovery_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentflow/internal/config"
	"contentflow/internal/engine"
	"contentflow/internal/logging"
	"contentflow/internal/queue"
	"contentflow/internal/recovery"
	"contentflow/internal/services"
	"contentflow/internal/services/fake"
	"contentflow/internal/stage"
	"contentflow/internal/testsupport"
)

type harness struct {
	cfg      *config.Config
	store    *queue.Store
	engine   *engine.Engine
	sweeper  *recovery.Sweeper
	clock    *testsupport.Clock
	renderer *fake.Client
	polls    *pollHook
}

// pollHook wraps the fake renderer so tests can act while a sweep polls.
type pollHook struct {
	*fake.Client
	onPoll func(jobID string)
}

func (p *pollHook) Poll(ctx context.Context, jobID string) (stage.JobStatus, error) {
	if p.onPoll != nil {
		p.onPoll(jobID)
	}
	return p.Client.Poll(ctx, jobID)
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	clock := testsupport.NewClock()
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	set, r, _, _ := fake.NewSet()
	hook := &pollHook{Client: r}
	set.Renderer = hook
	eng := engine.New(store, set, logging.NewNop(), engine.WithClock(clock.Now))
	return &harness{
		cfg:      cfg,
		store:    store,
		engine:   eng,
		sweeper:  newSweeper(cfg, eng, clock),
		clock:    clock,
		renderer: r,
		polls:    hook,
	}
}

func newSweeper(cfg *config.Config, eng *engine.Engine, clock *testsupport.Clock) *recovery.Sweeper {
	return recovery.New(cfg, eng, logging.NewNop(), recovery.WithClock(clock.Now), recovery.WithOwner("test-sweeper"))
}

// blockFirstPoll parks the first renderer poll until release is closed.
func (h *harness) blockFirstPoll() (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	h.polls.onPoll = func(string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	return entered, release
}

func (h *harness) promote(t *testing.T, brand string) *queue.Record {
	t.Helper()
	testsupport.NewRecord(t, h.store, brand, "X")
	rec, err := h.engine.PromoteNext(context.Background(), brand, 0)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func (h *harness) pastRenderTimeout() {
	h.clock.Advance(h.cfg.StageTimeout(config.StageRender) + time.Second)
}

func TestSweepIgnoresFreshRecords(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff())
	h.promote(t, "demo")

	report, err := h.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Empty(t, report.Recovered)
	assert.Empty(t, report.Failed)
}

func TestSweepRecoversFinishedJobByPolling(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff())
	ctx := context.Background()
	rec := h.promote(t, "demo")
	h.renderer.Succeed("R1", "r.mp4")
	h.pastRenderTimeout()

	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, report.Recovered)

	got, err := h.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCaptioning, got.Status)
	assert.Equal(t, "C1", got.JobID())
	assert.Zero(t, got.Attempts.Get(queue.StageRender), "a polled result is not a retry")
}

func TestSweepAppliesPolledFailure(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff())
	ctx := context.Background()
	rec := h.promote(t, "demo")
	h.renderer.Fail("R1", "avatar rejected")
	h.pastRenderTimeout()

	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, report.Failed)

	got, err := h.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Equal(t, "render: avatar rejected", got.Error)
}

func TestSweepRetriesStuckJob(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff())
	ctx := context.Background()
	rec := h.promote(t, "demo")
	h.pastRenderTimeout()

	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, report.Recovered)

	got, err := h.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRendering, got.Status)
	assert.Equal(t, "R2", got.JobID())
	assert.Equal(t, 1, got.Attempts.Get(queue.StageRender))
	assert.Equal(t, []string{"R1"}, h.renderer.Cancelled())
	assert.Equal(t, rec.ID+":render:1", h.renderer.Starts()[1].IdempotencyKey)
}

func TestSweepRetriesWhenVendorUnreachable(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff())
	rec := h.promote(t, "demo")
	h.renderer.FailPoll("R1", services.Wrap(services.ErrTransient, "render", "poll", "connection refused", nil))
	h.pastRenderTimeout()

	report, err := h.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, report.Recovered)
}

func TestSweepFailsAfterBudget(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff(), testsupport.WithRetryBudget(1))
	ctx := context.Background()
	rec := h.promote(t, "demo")

	h.pastRenderTimeout()
	_, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)

	h.pastRenderTimeout()
	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, report.Failed)

	got, err := h.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Equal(t, "render: no result after 2 attempts", got.Error)
	assert.Len(t, h.renderer.Starts(), 2)
}

func TestSweepHonoursBackoff(t *testing.T) {
	h := newHarness(t)
	rec := h.promote(t, "demo")
	h.pastRenderTimeout()

	report, err := h.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Recovered, "retry must wait for the backoff window")

	h.clock.Advance(time.Duration(h.cfg.Recovery.BackoffMaxSeconds) * time.Second)
	report, err = h.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, report.Recovered)
}

func TestSweepAdvancesStalledHandoff(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff())
	ctx := context.Background()
	rec := h.promote(t, "demo")

	_, err := h.store.Update(ctx, rec.ID, func(r *queue.Record) error {
		r.Status = queue.StatusRenderComplete
		r.Payload = queue.WithResult(r.Payload, "r.mp4")
		return nil
	}, rec.LockToken)
	require.NoError(t, err)
	h.clock.Advance(time.Duration(h.cfg.Recovery.HandoffTimeoutSeconds)*time.Second + time.Second)

	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, report.Recovered)

	got, err := h.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCaptioning, got.Status)
	assert.Equal(t, "C1", got.JobID())
}

func TestSweepSkipsWhenLeaseHeld(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff())
	ctx := context.Background()
	h.promote(t, "demo")
	h.pastRenderTimeout()

	ok, err := h.store.AcquireLease(ctx, recovery.LeaseName, "another-process", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Len(t, h.renderer.Starts(), 1)
}

func TestSweepReleasesLease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)

	ok, err := h.store.AcquireLease(ctx, recovery.LeaseName, "another-process", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

type brokenLocker struct{}

func (brokenLocker) AcquireLease(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (brokenLocker) RenewLease(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (brokenLocker) ReleaseLease(context.Context, string, string) error { return nil }

func TestSweepReportsLockerError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	set, _, _, _ := fake.NewSet()
	eng := engine.New(store, set, logging.NewNop())
	sweeper := recovery.New(cfg, eng, logging.NewNop(), recovery.WithLocker(brokenLocker{}))

	_, err := sweeper.Sweep(context.Background())
	require.Error(t, err)
}

func TestSweepHandlesBrandsIndependently(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff())
	ctx := context.Background()
	a := h.promote(t, "alpha")
	b := h.promote(t, "beta")
	h.renderer.Succeed(a.JobID(), "a.mp4")
	h.pastRenderTimeout()

	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, report.Recovered)
	assert.Zero(t, report.Errors)
}

func TestOverlappingSweepsInOneProcessRetryOnce(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff())
	ctx := context.Background()
	rec := h.promote(t, "demo")
	h.pastRenderTimeout()

	entered, release := h.blockFirstPoll()
	done := make(chan recovery.Report, 1)
	go func() {
		report, err := h.sweeper.Sweep(ctx)
		assert.NoError(t, err)
		done <- report
	}()
	<-entered

	second, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, []string{rec.ID}, first.Recovered)

	got, err := h.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts.Render)
	assert.Equal(t, "R2", got.JobID())
	assert.Len(t, h.renderer.Starts(), 2)
}

func TestSweepersWithSameOwnerExcludeEachOther(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff())
	ctx := context.Background()
	rec := h.promote(t, "demo")
	h.pastRenderTimeout()
	other := newSweeper(h.cfg, h.engine, h.clock)

	entered, release := h.blockFirstPoll()
	done := make(chan recovery.Report, 1)
	go func() {
		report, err := h.sweeper.Sweep(ctx)
		assert.NoError(t, err)
		done <- report
	}()
	<-entered

	report, err := other.Sweep(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)

	close(release)
	assert.Equal(t, []string{rec.ID}, (<-done).Recovered)
	got, err := h.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts.Render)
}

func TestSweepRenewsLeaseBetweenRecords(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff())
	ctx := context.Background()
	h.promote(t, "demo")
	h.clock.Advance(time.Second)
	h.promote(t, "demo")
	h.pastRenderTimeout()

	ttl := time.Duration(h.cfg.Recovery.LeaseTTLSeconds) * time.Second
	polls := 0
	stolen := false
	h.polls.onPoll = func(string) {
		polls++
		switch polls {
		case 1:
			h.clock.Advance(ttl / 2)
		case 2:
			// Past the first expiry, inside the renewed one.
			h.clock.Advance(ttl/2 + time.Second)
			ok, err := h.store.AcquireLease(ctx, recovery.LeaseName, "another-process", time.Minute)
			stolen = ok || err != nil
		}
	}

	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, polls)
	assert.False(t, stolen, "renewed lease must keep other sweepers out")
	assert.Len(t, report.Recovered, 2)
}

func TestSweepStopsWhenLeaseIsLost(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff())
	ctx := context.Background()
	first := h.promote(t, "demo")
	h.clock.Advance(time.Second)
	second := h.promote(t, "demo")
	h.pastRenderTimeout()

	ttl := time.Duration(h.cfg.Recovery.LeaseTTLSeconds) * time.Second
	var takeover bool
	h.polls.onPoll = func(string) {
		if takeover {
			return
		}
		h.clock.Advance(ttl + time.Second)
		ok, err := h.store.AcquireLease(ctx, recovery.LeaseName, "another-process", time.Hour)
		takeover = ok && err == nil
	}

	_, err := h.sweeper.Sweep(ctx)
	require.ErrorIs(t, err, recovery.ErrLeaseLost)
	require.True(t, takeover)

	attempts := 0
	for _, id := range []string{first.ID, second.ID} {
		got, err := h.store.Get(ctx, id)
		require.NoError(t, err)
		attempts += got.Attempts.Render
	}
	assert.Equal(t, 1, attempts, "only the record handled before the takeover is retried")

	ok, err := h.store.AcquireLease(ctx, recovery.LeaseName, "third-process", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "the lost lease must stay with its new owner")
}

func TestSweepResumesRetryingRecordWithoutSpendingBudget(t *testing.T) {
	h := newHarness(t, testsupport.WithoutBackoff())
	ctx := context.Background()
	rec := h.promote(t, "demo")

	// The process stopped between entering retrying and restarting the stage.
	_, err := h.store.Mutate(ctx, rec.ID, func(r *queue.Record) error {
		r.Attempts.Inc(queue.StageRender)
		r.Status = queue.StatusRetrying
		r.Payload = queue.WithJob(r.Payload, "")
		return nil
	})
	require.NoError(t, err)
	h.pastRenderTimeout()

	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, report.Recovered)

	got, err := h.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRendering, got.Status)
	assert.Equal(t, 1, got.Attempts.Render)
	assert.Equal(t, "R2", got.JobID())
	starts := h.renderer.Starts()
	require.Len(t, starts, 2)
	assert.Equal(t, rec.ID+":render:1", starts[1].IdempotencyKey)
}
