package fake

import (
	"context"
	"fmt"
	"sync"

	"contentflow/internal/queue"
	"contentflow/internal/stage"
)

// Client is a scripted stage.Client. Job ids are the prefix followed by a
// counter (R1, R2, ...). Polls report running until a status is scripted.
type Client struct {
	name   string
	prefix string

	mu        sync.Mutex
	counter   int
	starts    []stage.StartRequest
	byKey     map[string]string
	statuses  map[string]stage.JobStatus
	pollErrs  map[string]error
	startErrs []error
	cancelled []string
	cancelErr error
	unhealthy string
}

// New returns a fake client for the named stage issuing ids with prefix.
func New(name, prefix string) *Client {
	return &Client{
		name:     name,
		prefix:   prefix,
		byKey:    make(map[string]string),
		statuses: make(map[string]stage.JobStatus),
		pollErrs: make(map[string]error),
	}
}

// NewSet returns fake clients for every stage using prefixes R, C and D.
func NewSet() (stage.Set, *Client, *Client, *Client) {
	r := New("render", "R")
	c := New("caption", "C")
	d := New("distribute", "D")
	return stage.Set{Renderer: r, Captioner: c, Distributor: d}, r, c, d
}

// Start records the request and issues the next job id. A repeated
// idempotency key returns the job id issued for it the first time.
func (c *Client) Start(_ context.Context, req stage.StartRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.startErrs) > 0 {
		err := c.startErrs[0]
		c.startErrs = c.startErrs[1:]
		if err != nil {
			return "", err
		}
	}
	c.starts = append(c.starts, req)
	if id, ok := c.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return id, nil
	}
	c.counter++
	id := fmt.Sprintf("%s%d", c.prefix, c.counter)
	if req.IdempotencyKey != "" {
		c.byKey[req.IdempotencyKey] = id
	}
	return id, nil
}

// Poll returns the scripted status for jobID.
func (c *Client) Poll(_ context.Context, jobID string) (stage.JobStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.pollErrs[jobID]; ok {
		return stage.JobStatus{}, err
	}
	if status, ok := c.statuses[jobID]; ok {
		return status, nil
	}
	return stage.JobStatus{State: stage.JobRunning}, nil
}

// Cancel records the cancellation.
func (c *Client) Cancel(_ context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, jobID)
	return c.cancelErr
}

// HealthCheck reports healthy unless SetUnhealthy was called.
func (c *Client) HealthCheck(context.Context) stage.Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unhealthy != "" {
		return stage.Unavailable(queue.Stage(c.name), "fake", c.unhealthy)
	}
	return stage.Available(queue.Stage(c.name), "fake")
}

// Succeed scripts jobID to report success with resultURL.
func (c *Client) Succeed(jobID, resultURL string) {
	c.setStatus(jobID, stage.JobStatus{State: stage.JobSucceeded, ResultURL: resultURL})
}

// Fail scripts jobID to report failure with message.
func (c *Client) Fail(jobID, message string) {
	c.setStatus(jobID, stage.JobStatus{State: stage.JobFailed, Error: message})
}

// FailPoll makes polls of jobID return err.
func (c *Client) FailPoll(jobID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollErrs[jobID] = err
}

// FailNextStarts queues errors returned by the next Start calls, in order.
func (c *Client) FailNextStarts(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startErrs = append(c.startErrs, errs...)
}

// SetCancelError makes Cancel return err.
func (c *Client) SetCancelError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelErr = err
}

// SetUnhealthy makes HealthCheck report detail.
func (c *Client) SetUnhealthy(detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unhealthy = detail
}

// Starts returns every successful Start request in call order.
func (c *Client) Starts() []stage.StartRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]stage.StartRequest, len(c.starts))
	copy(out, c.starts)
	return out
}

// Cancelled returns the job ids passed to Cancel.
func (c *Client) Cancelled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.cancelled))
	copy(out, c.cancelled)
	return out
}

func (c *Client) setStatus(jobID string, status stage.JobStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pollErrs, jobID)
	c.statuses[jobID] = status
}
