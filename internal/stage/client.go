package stage

import (
	"context"
	"errors"
	"fmt"

	"contentflow/internal/queue"
)

// ErrCancelUnsupported is returned by clients whose vendor has no cancel endpoint.
var ErrCancelUnsupported = errors.New("cancel not supported")

// JobState is the vendor-reported state of an external job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// StartRequest describes the work handed to an external stage service.
type StartRequest struct {
	RecordID       string
	Brand          string
	Stage          queue.Stage
	Input          string
	IdempotencyKey string
}

// JobStatus is the answer to a status poll.
type JobStatus struct {
	State     JobState
	ResultURL string
	Error     string
}

// Done reports whether the job reached a final state.
func (s JobStatus) Done() bool {
	return s.State == JobSucceeded || s.State == JobFailed
}

// Client is the contract the engine needs from each external stage service.
// Start must not block on job completion. Errors should carry a
// services.ErrTransient or services.ErrPermanent marker.
type Client interface {
	Start(ctx context.Context, req StartRequest) (string, error)
	Poll(ctx context.Context, jobID string) (JobStatus, error)
	Cancel(ctx context.Context, jobID string) error
	HealthCheck(ctx context.Context) Health
}

// Set holds the client for each stage role.
type Set struct {
	Renderer    Client
	Captioner   Client
	Distributor Client
}

// For returns the client serving stage.
func (s Set) For(stage queue.Stage) (Client, error) {
	var client Client
	switch stage {
	case queue.StageRender:
		client = s.Renderer
	case queue.StageCaption:
		client = s.Captioner
	case queue.StageDistribute:
		client = s.Distributor
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	if client == nil {
		return nil, fmt.Errorf("no client configured for stage %s", stage)
	}
	return client, nil
}

// Health reports every configured client's readiness in pipeline order.
func (s Set) Health(ctx context.Context) []Health {
	out := make([]Health, 0, len(queue.Stages))
	for _, st := range queue.Stages {
		client, err := s.For(st)
		if err != nil {
			out = append(out, Unavailable(st, "", err.Error()))
			continue
		}
		out = append(out, client.HealthCheck(ctx))
	}
	return out
}

// IdempotencyKey identifies one start attempt. Retries use a new attempt
// number so the vendor treats them as fresh jobs.
func IdempotencyKey(recordID string, stage queue.Stage, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", recordID, stage, attempt)
}
