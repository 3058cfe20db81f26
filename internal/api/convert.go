package api

import (
	"time"

	"contentflow/internal/queue"
	"contentflow/internal/recovery"
	"contentflow/internal/stage"
	"contentflow/internal/webhook"
)

// FromRecord converts a workflow record to its API representation.
func FromRecord(rec *queue.Record) Workflow {
	if rec == nil {
		return Workflow{}
	}
	dto := Workflow{
		WorkflowID: rec.ID,
		Brand:      rec.Brand,
		Status:     string(rec.Status),
		Stage:      string(rec.Stage),
		ContentRef: rec.ContentRef,
		JobID:      rec.JobID(),
		Attempts: map[string]int{
			string(queue.StageRender):     rec.Attempts.Render,
			string(queue.StageCaption):    rec.Attempts.Caption,
			string(queue.StageDistribute): rec.Attempts.Distribute,
		},
		Error:          rec.Error,
		CreatedAt:      formatTime(rec.CreatedAt),
		UpdatedAt:      formatTime(rec.UpdatedAt),
		StageEnteredAt: formatTime(rec.StageEnteredAt),
	}
	if rec.Payload != nil {
		dto.Input = rec.Payload.Input()
		dto.ResultURL = rec.Payload.ResultURL()
	}
	return dto
}

// FromRecords converts a slice of records, skipping nil entries.
func FromRecords(records []*queue.Record) []Workflow {
	out := make([]Workflow, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		out = append(out, FromRecord(rec))
	}
	return out
}

// MergeStats converts store counts to a map keyed by status string with every
// status present.
func MergeStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

// FromStats combines per-status counts and the lifecycle summary.
func FromStats(stats map[queue.Status]int, summary queue.HealthSummary) StatsResponse {
	return StatsResponse{
		Counts:    MergeStats(stats),
		Total:     summary.Total,
		Queued:    summary.Queued,
		InFlight:  summary.InFlight,
		Completed: summary.Completed,
		Failed:    summary.Failed,
	}
}

// FromHealth converts stage client health results.
func FromHealth(health []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Stage: string(h.Stage), Vendor: h.Vendor, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromDatabaseHealth converts store diagnostics.
func FromDatabaseHealth(h queue.DatabaseHealth) DatabaseHealth {
	return DatabaseHealth{
		Path:          h.DBPath,
		Exists:        h.DatabaseExists,
		Readable:      h.DatabaseReadable,
		SchemaVersion: h.SchemaVersion,
		Integrity:     h.IntegrityCheck,
		TotalRecords:  h.TotalRecords,
		Error:         h.Error,
	}
}

// FromSweepReport converts a recovery report. Nil slices become empty so the
// JSON shape is stable.
func FromSweepReport(r recovery.Report) SweepReport {
	out := SweepReport{Skipped: r.Skipped, Recovered: r.Recovered, Failed: r.Failed, Errors: r.Errors}
	if out.Recovered == nil {
		out.Recovered = []string{}
	}
	if out.Failed == nil {
		out.Failed = []string{}
	}
	return out
}

// FromWebhookResult converts an ingestion result.
func FromWebhookResult(r webhook.Result) WebhookResult {
	return WebhookResult{
		Result:     string(r.Outcome),
		Reason:     r.Reason,
		WorkflowID: r.WorkflowID,
		Status:     string(r.Status),
	}
}

// FromWebhookFailures converts dead-letter entries.
func FromWebhookFailures(failures []queue.WebhookFailure) []WebhookFailure {
	out := make([]WebhookFailure, 0, len(failures))
	for _, f := range failures {
		out = append(out, WebhookFailure{
			ID:        f.ID,
			Stage:     f.Stage,
			JobID:     f.JobID,
			Reason:    f.Reason,
			Body:      f.Body,
			CreatedAt: formatTime(f.CreatedAt),
			Resolved:  f.Resolved,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
