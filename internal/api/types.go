package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Workflow describes a workflow record in a transport-friendly format.
type Workflow struct {
	WorkflowID     string         `json:"workflowId"`
	Brand          string         `json:"brand"`
	Status         string         `json:"status"`
	Stage          string         `json:"stage,omitempty"`
	ContentRef     string         `json:"contentRef"`
	JobID          string         `json:"externalJobId,omitempty"`
	Input          string         `json:"input,omitempty"`
	ResultURL      string         `json:"resultUrl,omitempty"`
	Attempts       map[string]int `json:"attempts"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      string         `json:"createdAt,omitempty"`
	UpdatedAt      string         `json:"updatedAt,omitempty"`
	StageEnteredAt string         `json:"stageEnteredAt,omitempty"`
}

// WorkflowListResponse wraps a collection of workflows.
type WorkflowListResponse struct {
	Items []Workflow `json:"items"`
}

// AdmitRequest is the body of an admission call.
type AdmitRequest struct {
	Brand   string `json:"brand"`
	Content string `json:"content"`
}

// ActionResponse reports the status of a workflow after an admission or an
// operator action.
type ActionResponse struct {
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
}

// StageHealth mirrors readiness reporting for stage clients.
type StageHealth struct {
	Stage  string `json:"stage"`
	Vendor string `json:"vendor,omitempty"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DatabaseHealth mirrors queue.DatabaseHealth.
type DatabaseHealth struct {
	Path          string `json:"path"`
	Exists        bool   `json:"exists"`
	Readable      bool   `json:"readable"`
	SchemaVersion int    `json:"schemaVersion"`
	Integrity     bool   `json:"integrity"`
	TotalRecords  int    `json:"totalRecords"`
	Error         string `json:"error,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	APIOnly      bool           `json:"apiOnly"`
	PID          int            `json:"pid"`
	SessionID    string         `json:"sessionId"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath,omitempty"`
	Counts       map[string]int `json:"counts"`
	StageHealth  []StageHealth  `json:"stageHealth"`
	Database     DatabaseHealth `json:"database"`
}

// StatsResponse provides per-status counts and lifecycle totals.
type StatsResponse struct {
	Counts    map[string]int `json:"counts"`
	Total     int            `json:"total"`
	Queued    int            `json:"queued"`
	InFlight  int            `json:"inFlight"`
	Completed int            `json:"completed"`
	Failed    int            `json:"failed"`
}

// SweepReport is the result of one recovery sweep.
type SweepReport struct {
	Skipped   bool     `json:"skipped"`
	Recovered []string `json:"recovered"`
	Failed    []string `json:"failed"`
	Errors    int      `json:"errors"`
}

// WebhookResult is returned to vendors after an accepted or duplicate event.
type WebhookResult struct {
	Result     string `json:"result"`
	Reason     string `json:"reason,omitempty"`
	WorkflowID string `json:"workflowId,omitempty"`
	Status     string `json:"status,omitempty"`
}

// WebhookFailure is a dead-letter entry.
type WebhookFailure struct {
	ID        int64  `json:"id"`
	Stage     string `json:"stage"`
	JobID     string `json:"externalJobId,omitempty"`
	Reason    string `json:"reason"`
	Body      string `json:"body,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	Resolved  bool   `json:"resolved"`
}

// ErrorResponse is the body of every failed HTTP call.
type ErrorResponse struct {
	Error string `json:"error"`
}
