// Package api defines wire-format types and converters for the HTTP API and
// the CLI. It translates internal queue models into transport-friendly DTOs
// so consumers render workflows without coupling to internal types.
//
// # Key Types
//
// Workflow: transport representation of a workflow record with its current
// stage, external job id, latest result and per-stage attempts.
//
// DaemonStatus: runtime information, per-status counts, stage client health
// and database health.
//
// SweepReport, WebhookResult, WebhookFailure: results of the recovery and
// ingestion paths.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums (queue.Status, queue.Stage)
// are exposed as lowercase strings. Timestamps use RFC3339 with milliseconds.
package api
