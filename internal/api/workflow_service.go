package api

import (
	"context"
	"fmt"

	"contentflow/internal/queue"
)

// WorkflowReader abstracts the store queries needed for API views.
type WorkflowReader interface {
	QueryByStatus(ctx context.Context, brand string, statuses ...queue.Status) ([]*queue.Record, error)
	Get(ctx context.Context, id string) (*queue.Record, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	Health(ctx context.Context) (queue.HealthSummary, error)
}

// WorkflowService exposes read-only workflow operations returning API DTOs.
type WorkflowService struct {
	store WorkflowReader
}

// NewWorkflowService constructs a WorkflowService around the provided reader.
func NewWorkflowService(store WorkflowReader) *WorkflowService {
	if store == nil {
		return nil
	}
	return &WorkflowService{store: store}
}

// List returns workflows filtered by brand and status, oldest first.
func (s *WorkflowService) List(ctx context.Context, brand string, statuses ...queue.Status) ([]Workflow, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	records, err := s.store.QueryByStatus(ctx, brand, statuses...)
	if err != nil {
		return nil, err
	}
	return FromRecords(records), nil
}

// Describe fetches a single workflow.
func (s *WorkflowService) Describe(ctx context.Context, id string) (*Workflow, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := FromRecord(rec)
	return &dto, nil
}

// Stats returns per-status counts and lifecycle totals.
func (s *WorkflowService) Stats(ctx context.Context) (StatsResponse, error) {
	if s == nil || s.store == nil {
		return StatsResponse{}, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return StatsResponse{}, err
	}
	summary, err := s.store.Health(ctx)
	if err != nil {
		return StatsResponse{}, err
	}
	return FromStats(stats, summary), nil
}

// ParseStatuses converts status filter values, rejecting unknown names.
func ParseStatuses(values []string) ([]queue.Status, error) {
	out := make([]queue.Status, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		status, ok := queue.ParseStatus(v)
		if !ok {
			return nil, &UnknownStatusError{Value: v}
		}
		out = append(out, status)
	}
	return out, nil
}

// UnknownStatusError reports a status filter that names no status.
type UnknownStatusError struct {
	Value string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown status %q", e.Value)
}
