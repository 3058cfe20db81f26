package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"contentflow/internal/queue"
	"contentflow/internal/testsupport"
)

func openStore(t *testing.T) (*queue.Store, *testsupport.Clock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock()
	return testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now)), clock
}

func TestCreateAppliesDefaults(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &queue.Record{Brand: "demo", ContentRef: "article-1"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected id to be assigned")
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != queue.StatusQueued {
		t.Fatalf("expected queued, got %s", rec.Status)
	}
	payload, ok := rec.Payload.(queue.RenderPayload)
	if !ok || payload.ContentRef != "article-1" || payload.JobID != "" {
		t.Fatalf("unexpected payload: %#v", rec.Payload)
	}
	if !rec.CreatedAt.Equal(clock.Now()) || !rec.StageEnteredAt.Equal(clock.Now()) {
		t.Fatalf("unexpected timestamps: created=%s entered=%s", rec.CreatedAt, rec.StageEnteredAt)
	}
	if rec.LockToken == "" {
		t.Fatal("expected lock token")
	}
}

func TestCreateRequiresBrand(t *testing.T) {
	store, _ := openStore(t)
	if _, err := store.Create(context.Background(), &queue.Record{ContentRef: "x"}); err == nil {
		t.Fatal("expected error when brand missing")
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store, _ := openStore(t)
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRejectsStaleToken(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store, "demo", "article-1")

	toRendering := func(r *queue.Record) error {
		r.Status = queue.StatusRendering
		r.Stage = queue.StageRender
		return nil
	}
	updated, err := store.Update(ctx, rec.ID, toRendering, rec.LockToken)
	if err != nil {
		t.Fatalf("first Update failed: %v", err)
	}
	if updated.LockToken == rec.LockToken {
		t.Fatal("expected lock token to rotate")
	}

	_, err = store.Update(ctx, rec.ID, func(r *queue.Record) error {
		r.Status = queue.StatusFailed
		return nil
	}, rec.LockToken)
	if !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale token, got %v", err)
	}

	current, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.Status != queue.StatusRendering {
		t.Fatalf("stale write must not apply, got %s", current.Status)
	}
}

func TestUpdateEnforcesStatusGraph(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store, "demo", "article-1")

	_, err := store.Update(ctx, rec.ID, func(r *queue.Record) error {
		r.Status = queue.StatusCompleted
		return nil
	}, rec.LockToken)
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateKeepsImmutableFieldsAndStampsTimes(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store, "demo", "article-1")

	clock.Advance(time.Minute)
	updated, err := store.Update(ctx, rec.ID, func(r *queue.Record) error {
		r.Brand = "other"
		r.ContentRef = "changed"
		r.Status = queue.StatusRendering
		r.Stage = queue.StageRender
		r.Error = "should be cleared"
		return nil
	}, rec.LockToken)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Brand != "demo" || updated.ContentRef != "article-1" {
		t.Fatalf("immutable fields changed: %#v", updated)
	}
	if updated.Error != "" {
		t.Fatalf("error must only be set on failed records, got %q", updated.Error)
	}
	if !updated.StageEnteredAt.Equal(clock.Now()) {
		t.Fatalf("expected stage entered at %s, got %s", clock.Now(), updated.StageEnteredAt)
	}

	clock.Advance(time.Minute)
	same, err := store.Update(ctx, rec.ID, func(r *queue.Record) error {
		r.Payload = queue.WithJob(r.Payload, "R1")
		return nil
	}, updated.LockToken)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !same.StageEnteredAt.Equal(updated.StageEnteredAt) {
		t.Fatal("stage entered at must not move without a status change")
	}
	if !same.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("expected updated at %s, got %s", clock.Now(), same.UpdatedAt)
	}
	if same.JobID() != "R1" {
		t.Fatalf("expected job id R1, got %q", same.JobID())
	}
}

func TestUpdatePassesMutatorError(t *testing.T) {
	store, _ := openStore(t)
	rec := testsupport.NewRecord(t, store, "demo", "article-1")
	sentinel := errors.New("guard failed")

	_, err := store.Update(context.Background(), rec.ID, func(*queue.Record) error { return sentinel }, rec.LockToken)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected mutator error, got %v", err)
	}
}

func TestTerminalRecordsOnlyAcceptReset(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store, "demo", "article-1")

	failed, err := store.Mutate(ctx, rec.ID, func(r *queue.Record) error {
		r.Status = queue.StatusFailed
		r.Attempts.Inc(queue.StageRender)
		r.Error = "render: boom"
		return nil
	})
	if err != nil {
		t.Fatalf("fail record: %v", err)
	}
	if failed.Error != "render: boom" {
		t.Fatalf("expected error to be kept, got %q", failed.Error)
	}

	_, err = store.Mutate(ctx, rec.ID, func(r *queue.Record) error {
		r.Payload = queue.WithJob(r.Payload, "late")
		return nil
	})
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected terminal record write to be refused, got %v", err)
	}

	reset, err := store.Mutate(ctx, rec.ID, func(r *queue.Record) error {
		r.Status = queue.StatusQueued
		return nil
	})
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if reset.Attempts != (queue.StageAttempts{}) || reset.Error != "" {
		t.Fatalf("reset must zero attempts and clear error: %#v", reset)
	}
}

func TestMutateRetriesAfterConcurrentWrite(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store, "demo", "article-1")

	calls := 0
	updated, err := store.Mutate(ctx, rec.ID, func(r *queue.Record) error {
		calls++
		if calls == 1 {
			if _, err := store.Mutate(ctx, rec.ID, func(inner *queue.Record) error {
				inner.Attempts.Inc(queue.StageRender)
				return nil
			}); err != nil {
				t.Fatalf("inner write failed: %v", err)
			}
		}
		r.Status = queue.StatusRendering
		r.Stage = queue.StageRender
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected one retry, got %d calls", calls)
	}
	if updated.Attempts.Render != 1 || updated.Status != queue.StatusRendering {
		t.Fatalf("expected both writes to survive: %#v", updated)
	}
}

func TestCreateWithinCapEnforcesDailyLimit(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()
	dayStart := func() time.Time { return clock.Now().Truncate(24 * time.Hour) }

	for i := 0; i < 2; i++ {
		if _, err := store.CreateWithinCap(ctx, &queue.Record{Brand: "demo", ContentRef: "a"}, dayStart(), 2); err != nil {
			t.Fatalf("admission %d failed: %v", i, err)
		}
	}
	_, err := store.CreateWithinCap(ctx, &queue.Record{Brand: "demo", ContentRef: "b"}, dayStart(), 2)
	if !errors.Is(err, queue.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if n, _ := store.CountCreatedSince(ctx, "demo", dayStart()); n != 2 {
		t.Fatalf("rejected admission must not create a record, count=%d", n)
	}

	if _, err := store.CreateWithinCap(ctx, &queue.Record{Brand: "other", ContentRef: "c"}, dayStart(), 2); err != nil {
		t.Fatalf("other brand must have its own cap: %v", err)
	}

	clock.Advance(24 * time.Hour)
	if _, err := store.CreateWithinCap(ctx, &queue.Record{Brand: "demo", ContentRef: "d"}, dayStart(), 2); err != nil {
		t.Fatalf("cap must reset the next day: %v", err)
	}
}

func TestClaimNextQueuedIsFIFOAndRespectsCap(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()

	var ids []string
	for _, ref := range []string{"first", "second", "third"} {
		ids = append(ids, testsupport.NewRecord(t, store, "demo", ref).ID)
		clock.Advance(time.Second)
	}

	first, err := store.ClaimNextQueued(ctx, "demo", 2)
	if err != nil || first == nil {
		t.Fatalf("first claim: %v %v", first, err)
	}
	if first.ID != ids[0] || first.Status != queue.StatusRendering || first.Stage != queue.StageRender {
		t.Fatalf("unexpected first claim: %#v", first)
	}

	second, err := store.ClaimNextQueued(ctx, "demo", 2)
	if err != nil || second == nil || second.ID != ids[1] {
		t.Fatalf("second claim: %#v %v", second, err)
	}

	third, err := store.ClaimNextQueued(ctx, "demo", 2)
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
	if third != nil {
		t.Fatalf("expected cap to block third claim, got %s", third.ID)
	}

	if none, err := store.ClaimNextQueued(ctx, "empty", 0); err != nil || none != nil {
		t.Fatalf("expected nothing for brand without queued work: %v %v", none, err)
	}
}

func TestQueryByStatusFiltersAndOrders(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()

	a := testsupport.NewRecord(t, store, "demo", "a")
	clock.Advance(time.Second)
	testsupport.NewRecord(t, store, "other", "b")
	clock.Advance(time.Second)
	c := testsupport.NewRecord(t, store, "demo", "c")

	demo, err := store.QueryByStatus(ctx, "demo", queue.StatusQueued)
	if err != nil {
		t.Fatalf("QueryByStatus failed: %v", err)
	}
	if len(demo) != 2 || demo[0].ID != a.ID || demo[1].ID != c.ID {
		t.Fatalf("unexpected demo records: %d", len(demo))
	}

	all, err := store.QueryByStatus(ctx, "")
	if err != nil {
		t.Fatalf("QueryByStatus failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}

	none, err := store.QueryByStatus(ctx, "demo", queue.StatusCompleted)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no completed records: %d %v", len(none), err)
	}
}

func TestQueryStaleUsesStageEnteredAt(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()

	old := testsupport.NewRecord(t, store, "demo", "old")
	clock.Advance(10 * time.Minute)
	testsupport.NewRecord(t, store, "demo", "fresh")

	stale, err := store.QueryStale(ctx, []queue.Status{queue.StatusQueued}, clock.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("QueryStale failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Fatalf("expected only the old record, got %d", len(stale))
	}
}

func TestRegisterJobMapsOneJobToOneRecord(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	a := testsupport.NewRecord(t, store, "demo", "a")
	b := testsupport.NewRecord(t, store, "demo", "b")

	if err := store.RegisterJob(ctx, queue.StageRender, "R1", a.ID); err != nil {
		t.Fatalf("RegisterJob failed: %v", err)
	}
	if err := store.RegisterJob(ctx, queue.StageRender, "R1", a.ID); err != nil {
		t.Fatalf("re-registering same owner must be a no-op: %v", err)
	}
	if err := store.RegisterJob(ctx, queue.StageRender, "R1", b.ID); !errors.Is(err, queue.ErrJobClaimed) {
		t.Fatalf("expected ErrJobClaimed, got %v", err)
	}
	if err := store.RegisterJob(ctx, queue.StageCaption, "R1", b.ID); err != nil {
		t.Fatalf("job ids are scoped per stage: %v", err)
	}

	entry, err := store.LookupJob(ctx, queue.StageRender, "R1")
	if err != nil {
		t.Fatalf("LookupJob failed: %v", err)
	}
	if entry.WorkflowID != a.ID || entry.PayloadHash != "" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	if _, err := store.LookupJob(ctx, queue.StageRender, "nope"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkJobEventIsCompareAndSwap(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store, "demo", "a")
	if err := store.RegisterJob(ctx, queue.StageRender, "R1", rec.ID); err != nil {
		t.Fatalf("RegisterJob failed: %v", err)
	}

	ok, err := store.MarkJobEvent(ctx, queue.StageRender, "R1", "", "h1")
	if err != nil || !ok {
		t.Fatalf("first mark: %v %v", ok, err)
	}
	ok, err = store.MarkJobEvent(ctx, queue.StageRender, "R1", "", "h1")
	if err != nil || ok {
		t.Fatalf("second mark with stale prev hash must lose: %v %v", ok, err)
	}

	if err := store.RestoreJobEvent(ctx, queue.StageRender, "R1", "h1", ""); err != nil {
		t.Fatalf("RestoreJobEvent failed: %v", err)
	}
	entry, err := store.LookupJob(ctx, queue.StageRender, "R1")
	if err != nil {
		t.Fatalf("LookupJob failed: %v", err)
	}
	if entry.PayloadHash != "" || entry.ProcessedAt != nil {
		t.Fatalf("expected restore to clear hash: %#v", entry)
	}
}

func TestLeaseExcludesOtherOwnersUntilExpiry(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()

	if ok, err := store.AcquireLease(ctx, "sweep", "a", time.Minute); err != nil || !ok {
		t.Fatalf("a acquire: %v %v", ok, err)
	}
	if ok, err := store.AcquireLease(ctx, "sweep", "b", time.Minute); err != nil || ok {
		t.Fatalf("b must not acquire held lease: %v %v", ok, err)
	}
	if ok, err := store.AcquireLease(ctx, "sweep", "a", time.Minute); err != nil || ok {
		t.Fatalf("a must not acquire a lease it already holds: %v %v", ok, err)
	}
	clock.Advance(40 * time.Second)
	if ok, err := store.RenewLease(ctx, "sweep", "a", time.Minute); err != nil || !ok {
		t.Fatalf("a must renew own lease: %v %v", ok, err)
	}
	clock.Advance(40 * time.Second)
	if ok, err := store.AcquireLease(ctx, "sweep", "b", time.Minute); err != nil || ok {
		t.Fatalf("renewed lease must still exclude b: %v %v", ok, err)
	}

	clock.Advance(2 * time.Minute)
	if ok, err := store.AcquireLease(ctx, "sweep", "b", time.Minute); err != nil || !ok {
		t.Fatalf("b must take over expired lease: %v %v", ok, err)
	}
	if ok, err := store.RenewLease(ctx, "sweep", "a", time.Minute); err != nil || ok {
		t.Fatalf("a must not renew a lease b took over: %v %v", ok, err)
	}

	if err := store.ReleaseLease(ctx, "sweep", "a"); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if ok, _ := store.AcquireLease(ctx, "sweep", "a", time.Minute); ok {
		t.Fatal("release by non-owner must not drop the lease")
	}
	if err := store.ReleaseLease(ctx, "sweep", "b"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := store.AcquireLease(ctx, "sweep", "a", time.Minute); !ok {
		t.Fatal("released lease must be free")
	}
}

func TestWebhookFailureLog(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	id, err := store.RecordWebhookFailure(ctx, queue.WebhookFailure{Stage: "render", JobID: "R9", Reason: "invalid signature", Body: "{}"})
	if err != nil {
		t.Fatalf("RecordWebhookFailure failed: %v", err)
	}

	open, err := store.ListWebhookFailures(ctx, false, 10)
	if err != nil || len(open) != 1 || open[0].ID != id || open[0].Reason != "invalid signature" {
		t.Fatalf("unexpected open failures: %#v %v", open, err)
	}

	if err := store.ResolveWebhookFailure(ctx, id); err != nil {
		t.Fatalf("ResolveWebhookFailure failed: %v", err)
	}
	if open, _ := store.ListWebhookFailures(ctx, false, 10); len(open) != 0 {
		t.Fatalf("expected no open failures, got %d", len(open))
	}
	if all, _ := store.ListWebhookFailures(ctx, true, 10); len(all) != 1 || !all[0].Resolved {
		t.Fatalf("expected resolved entry in full listing")
	}
	if err := store.ResolveWebhookFailure(ctx, 999); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHealthSummaries(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	testsupport.NewRecord(t, store, "demo", "a")
	testsupport.NewRecord(t, store, "demo", "b")
	if _, err := store.ClaimNextQueued(ctx, "demo", 0); err != nil {
		t.Fatalf("claim: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Queued != 1 || health.InFlight != 1 {
		t.Fatalf("unexpected health: %#v", health)
	}

	db, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !db.DatabaseExists || !db.DatabaseReadable || !db.IntegrityCheck || db.TotalRecords != 2 || db.SchemaVersion != 1 {
		t.Fatalf("unexpected database health: %#v", db)
	}
}
