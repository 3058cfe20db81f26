package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"contentflow/internal/queue"
)

type mockReader struct {
	records []*queue.Record
	stats   map[queue.Status]int
	summary queue.HealthSummary
	err     error
}

func (m *mockReader) QueryByStatus(_ context.Context, brand string, statuses ...queue.Status) ([]*queue.Record, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*queue.Record
	for _, rec := range m.records {
		if brand != "" && rec.Brand != brand {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, rec.Status) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *mockReader) Get(_ context.Context, id string) (*queue.Record, error) {
	for _, rec := range m.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, queue.ErrNotFound
}

func (m *mockReader) Stats(context.Context) (map[queue.Status]int, error) {
	return m.stats, m.err
}

func (m *mockReader) Health(context.Context) (queue.HealthSummary, error) {
	return m.summary, m.err
}

func containsStatus(list []queue.Status, s queue.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sampleRecords() []*queue.Record {
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return []*queue.Record{
		{
			ID: "wf-1", Brand: "demo", ContentRef: "X",
			Status: queue.StatusCaptioning, Stage: queue.StageCaption,
			Payload:   queue.CaptionPayload{SourceURL: "r.mp4", JobID: "C1"},
			Attempts:  queue.StageAttempts{Render: 1},
			CreatedAt: created, UpdatedAt: created, StageEnteredAt: created,
		},
		{
			ID: "wf-2", Brand: "other", ContentRef: "Y",
			Status:  queue.StatusQueued,
			Payload: queue.RenderPayload{ContentRef: "Y"},
		},
	}
}

func TestWorkflowServiceList(t *testing.T) {
	svc := NewWorkflowService(&mockReader{records: sampleRecords()})
	items, err := svc.List(context.Background(), "demo")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	got := items[0]
	if got.WorkflowID != "wf-1" || got.Status != "captioning" || got.Stage != "caption" {
		t.Fatalf("unexpected item: %+v", got)
	}
	if got.JobID != "C1" || got.Input != "r.mp4" {
		t.Fatalf("expected job and input from payload, got %+v", got)
	}
	if got.Attempts["render"] != 1 {
		t.Fatalf("expected render attempts 1, got %d", got.Attempts["render"])
	}
	if got.CreatedAt != "2026-03-14T09:00:00.000Z" {
		t.Fatalf("unexpected createdAt %q", got.CreatedAt)
	}
}

func TestWorkflowServiceListError(t *testing.T) {
	errSentinel := errors.New("boom")
	svc := NewWorkflowService(&mockReader{err: errSentinel})
	if _, err := svc.List(context.Background(), ""); !errors.Is(err, errSentinel) {
		t.Fatalf("expected error %v, got %v", errSentinel, err)
	}
}

func TestWorkflowServiceDescribe(t *testing.T) {
	svc := NewWorkflowService(&mockReader{records: sampleRecords()})
	item, err := svc.Describe(context.Background(), "wf-2")
	if err != nil {
		t.Fatalf("Describe returned error: %v", err)
	}
	if item.Status != "queued" || item.Stage != "" || item.Input != "Y" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if _, err := svc.Describe(context.Background(), "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWorkflowServiceStats(t *testing.T) {
	svc := NewWorkflowService(&mockReader{
		stats:   map[queue.Status]int{queue.StatusQueued: 2, queue.StatusFailed: 1},
		summary: queue.HealthSummary{Total: 3, Queued: 2, Failed: 1},
	})
	got, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if got.Counts["queued"] != 2 || got.Counts["failed"] != 1 {
		t.Fatalf("unexpected counts: %v", got.Counts)
	}
	if _, ok := got.Counts["rendering"]; !ok {
		t.Fatal("expected every status to be present")
	}
	if got.Total != 3 {
		t.Fatalf("expected total 3, got %d", got.Total)
	}
}

func TestNilWorkflowService(t *testing.T) {
	var svc *WorkflowService
	if items, err := svc.List(context.Background(), ""); err != nil || items != nil {
		t.Fatalf("expected nil result from nil service, got %v %v", items, err)
	}
}

func TestParseStatuses(t *testing.T) {
	got, err := ParseStatuses([]string{"queued", "", "failed"})
	if err != nil {
		t.Fatalf("ParseStatuses returned error: %v", err)
	}
	if len(got) != 2 || got[0] != queue.StatusQueued || got[1] != queue.StatusFailed {
		t.Fatalf("unexpected statuses: %v", got)
	}
	var unknown *UnknownStatusError
	if _, err := ParseStatuses([]string{"paused"}); !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownStatusError, got %v", err)
	}
}
