package vendorhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"contentflow/internal/config"
	"contentflow/internal/queue"
	"contentflow/internal/services"
	"contentflow/internal/stage"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 512
)

// HTTPDoer describes the HTTP client used to reach a vendor.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one vendor's job API.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	startPath  string
	statusPath string
	cancelPath string
	httpClient HTTPDoer
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New constructs a client for the named stage from its vendor settings.
func New(name string, cfg config.Vendor, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		name:       name,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		startPath:  cfg.StartPath,
		statusPath: cfg.StatusPath,
		cancelPath: cfg.CancelPath,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type startBody struct {
	IdempotencyKey string `json:"idempotency_key"`
	WorkflowID     string `json:"workflow_id"`
	Brand          string `json:"brand"`
	Input          string `json:"input"`
}

// startResponse accepts the job id field names used by the supported vendors.
type startResponse struct {
	JobID     string `json:"job_id"`
	ID        string `json:"id"`
	VideoID   string `json:"video_id"`
	ProjectID string `json:"projectId"`
	PostID    string `json:"postId"`
	Data      *struct {
		VideoID string `json:"video_id"`
		ID      string `json:"id"`
	} `json:"data"`
}

func (r startResponse) jobID() string {
	for _, candidate := range []string{r.JobID, r.ID, r.VideoID, r.ProjectID, r.PostID} {
		if strings.TrimSpace(candidate) != "" {
			return strings.TrimSpace(candidate)
		}
	}
	if r.Data != nil {
		if r.Data.VideoID != "" {
			return r.Data.VideoID
		}
		return r.Data.ID
	}
	return ""
}

type statusResponse struct {
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     string `json:"error"`
}

// Start submits a job and returns the vendor's job id.
func (c *Client) Start(ctx context.Context, req stage.StartRequest) (string, error) {
	body, err := json.Marshal(startBody{
		IdempotencyKey: req.IdempotencyKey,
		WorkflowID:     req.RecordID,
		Brand:          req.Brand,
		Input:          req.Input,
	})
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, c.name, "start", "encode request", err)
	}
	headers := map[string]string{"Idempotency-Key": req.IdempotencyKey}
	var resp startResponse
	if err := c.do(ctx, http.MethodPost, c.startPath, bytes.NewReader(body), headers, &resp); err != nil {
		return "", c.classify("start", err)
	}
	jobID := resp.jobID()
	if jobID == "" {
		return "", services.Wrap(services.ErrTransient, c.name, "start", "response carried no job id", nil)
	}
	return jobID, nil
}

// Poll fetches the job's current state.
func (c *Client) Poll(ctx context.Context, jobID string) (stage.JobStatus, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, c.jobPath(c.statusPath, jobID), nil, nil, &resp); err != nil {
		return stage.JobStatus{}, c.classify("poll", err)
	}
	return stage.JobStatus{
		State:     parseState(resp.Status),
		ResultURL: strings.TrimSpace(resp.ResultURL),
		Error:     strings.TrimSpace(resp.Error),
	}, nil
}

// Cancel asks the vendor to stop a job. Vendors without a cancel path report
// stage.ErrCancelUnsupported.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	if strings.TrimSpace(c.cancelPath) == "" {
		return stage.ErrCancelUnsupported
	}
	if err := c.do(ctx, http.MethodPost, c.jobPath(c.cancelPath, jobID), nil, nil, nil); err != nil {
		return c.classify("cancel", err)
	}
	return nil
}

// HealthCheck reports whether the client has what it needs to reach the vendor.
func (c *Client) HealthCheck(context.Context) stage.Health {
	st := queue.Stage(c.name)
	if c.baseURL == "" {
		return stage.Unavailable(st, "", "base url not configured")
	}
	host := c.baseURL
	if parsed, err := url.Parse(c.baseURL); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	if c.apiKey == "" {
		return stage.Unavailable(st, host, "api key not configured")
	}
	return stage.Available(st, host)
}

func (c *Client) jobPath(template, jobID string) string {
	return strings.ReplaceAll(template, "{job_id}", url.PathEscape(jobID))
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string, out any) error {
	if c.baseURL == "" {
		return services.Wrap(services.ErrConfiguration, c.name, "request", "base url not configured", nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classify tags err as transient or permanent. Server errors, rate limiting,
// timeouts and transport failures are transient; other 4xx are permanent.
func (c *Client) classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if services.IsPermanent(err) {
		return err
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode >= 500,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode == http.StatusRequestTimeout:
			return services.Wrap(services.ErrTransient, c.name, operation, "vendor unavailable", err)
		default:
			return services.Wrap(services.ErrPermanent, c.name, operation, "vendor rejected request", err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTransient, c.name, operation, "request timed out", errors.Join(services.ErrTimeout, err))
	}
	return services.Wrap(services.ErrTransient, c.name, operation, "request failed", err)
}

func parseState(value string) stage.JobState {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "completed", "complete", "succeeded", "success", "done", "published":
		return stage.JobSucceeded
	case "failed", "failure", "error", "errored", "cancelled", "canceled":
		return stage.JobFailed
	default:
		return stage.JobRunning
	}
}
