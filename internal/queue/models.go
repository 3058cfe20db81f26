package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a workflow record.
type Status string

const (
	StatusQueued          Status = "queued"
	StatusRendering       Status = "rendering"
	StatusRenderComplete  Status = "render_complete"
	StatusCaptioning      Status = "captioning"
	StatusCaptionComplete Status = "caption_complete"
	StatusDistributing    Status = "distributing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusRetrying        Status = "retrying"
)

// CancelledReason is the error recorded when an operator cancels a workflow.
const CancelledReason = "cancelled"

var allStatuses = []Status{
	StatusQueued,
	StatusRendering,
	StatusRenderComplete,
	StatusCaptioning,
	StatusCaptionComplete,
	StatusDistributing,
	StatusCompleted,
	StatusFailed,
	StatusRetrying,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// InFlightStatuses are the statuses that count against a brand's concurrency cap.
var InFlightStatuses = []Status{
	StatusRendering,
	StatusRenderComplete,
	StatusCaptioning,
	StatusCaptionComplete,
	StatusDistributing,
	StatusRetrying,
}

// transitions lists every permitted status edge. The terminal -> queued edge is
// reserved for the operator reset.
var transitions = map[Status][]Status{
	StatusQueued:          {StatusRendering, StatusFailed},
	StatusRendering:       {StatusRenderComplete, StatusRetrying, StatusFailed},
	StatusRenderComplete:  {StatusCaptioning, StatusFailed},
	StatusCaptioning:      {StatusCaptionComplete, StatusRetrying, StatusFailed},
	StatusCaptionComplete: {StatusDistributing, StatusFailed},
	StatusDistributing:    {StatusCompleted, StatusRetrying, StatusFailed},
	StatusRetrying:        {StatusRendering, StatusCaptioning, StatusDistributing, StatusFailed},
	StatusCompleted:       {StatusQueued},
	StatusFailed:          {StatusQueued},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a Status if recognized.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[status]
	return status, ok
}

// IsTerminal reports whether no further automatic transitions apply.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsInFlight reports whether the status counts against the concurrency cap.
func (s Status) IsInFlight() bool {
	for _, candidate := range InFlightStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// CanTransition reports whether from -> to is a declared edge.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Stage identifies one of the external production steps.
type Stage string

const (
	StageRender     Stage = "render"
	StageCaption    Stage = "caption"
	StageDistribute Stage = "distribute"
)

// Stages lists the pipeline in execution order.
var Stages = []Stage{StageRender, StageCaption, StageDistribute}

// ParseStage converts a string into a Stage if recognized.
func ParseStage(value string) (Stage, bool) {
	switch stage := Stage(strings.ToLower(strings.TrimSpace(value))); stage {
	case StageRender, StageCaption, StageDistribute:
		return stage, true
	}
	return "", false
}

// ActiveStatus is the status a record holds while the stage's job runs.
func (s Stage) ActiveStatus() Status {
	switch s {
	case StageRender:
		return StatusRendering
	case StageCaption:
		return StatusCaptioning
	case StageDistribute:
		return StatusDistributing
	}
	return ""
}

// CompleteStatus is the status entered when the stage's job succeeds.
func (s Stage) CompleteStatus() Status {
	switch s {
	case StageRender:
		return StatusRenderComplete
	case StageCaption:
		return StatusCaptionComplete
	case StageDistribute:
		return StatusCompleted
	}
	return ""
}

// Next returns the stage that follows s.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageRender:
		return StageCaption, true
	case StageCaption:
		return StageDistribute, true
	}
	return "", false
}

// StageForStatus maps active and handoff statuses to their stage.
func StageForStatus(status Status) (Stage, bool) {
	switch status {
	case StatusRendering, StatusRenderComplete:
		return StageRender, true
	case StatusCaptioning, StatusCaptionComplete:
		return StageCaption, true
	case StatusDistributing:
		return StageDistribute, true
	}
	return "", false
}

// StageAttempts counts retries per stage.
type StageAttempts struct {
	Render     int `json:"render"`
	Caption    int `json:"caption"`
	Distribute int `json:"distribute"`
}

// Get returns the retry count for stage.
func (a StageAttempts) Get(stage Stage) int {
	switch stage {
	case StageRender:
		return a.Render
	case StageCaption:
		return a.Caption
	case StageDistribute:
		return a.Distribute
	}
	return 0
}

// Inc increments the retry count for stage and returns the new value.
func (a *StageAttempts) Inc(stage Stage) int {
	switch stage {
	case StageRender:
		a.Render++
		return a.Render
	case StageCaption:
		a.Caption++
		return a.Caption
	case StageDistribute:
		a.Distribute++
		return a.Distribute
	}
	return 0
}

// Record is one unit of content moving through the pipeline.
type Record struct {
	ID             string
	Brand          string
	ContentRef     string
	Status         Status
	Stage          Stage
	Payload        StagePayload
	Attempts       StageAttempts
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StageEnteredAt time.Time
	LockToken      string
}

// JobID returns the external job id of the current stage, if any.
func (r *Record) JobID() string {
	if r == nil || r.Payload == nil {
		return ""
	}
	return r.Payload.ExternalJobID()
}

// IsTerminal reports whether the record reached completed or failed.
func (r *Record) IsTerminal() bool {
	return r != nil && r.Status.IsTerminal()
}

// JobEntry maps a vendor job to the record that owns it.
type JobEntry struct {
	Stage       Stage
	JobID       string
	WorkflowID  string
	PayloadHash string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// WebhookFailure is a dead-letter entry for an inbound event that could not be processed.
type WebhookFailure struct {
	ID        int64
	Stage     string
	JobID     string
	Reason    string
	Body      string
	CreatedAt time.Time
	Resolved  bool
}

// HealthSummary describes aggregated workflow counts per lifecycle group.
type HealthSummary struct {
	Total     int
	Queued    int
	InFlight  int
	Completed int
	Failed    int
}

// DatabaseHealth captures diagnostic information about the workflow database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	IntegrityCheck   bool
	TotalRecords     int
	Error            string
}
