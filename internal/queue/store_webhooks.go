package queue

import (
	"context"
	"fmt"
)

type webhookFailureRow struct {
	ID        int64  `db:"id"`
	Stage     string `db:"stage"`
	JobID     string `db:"external_job_id"`
	Reason    string `db:"reason"`
	Body      string `db:"body"`
	CreatedAt string `db:"created_at"`
	Resolved  bool   `db:"resolved"`
}

// RecordWebhookFailure appends an inbound event to the dead-letter log.
func (s *Store) RecordWebhookFailure(ctx context.Context, failure WebhookFailure) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`INSERT INTO webhook_failures (stage, external_job_id, reason, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		failure.Stage, failure.JobID, failure.Reason, failure.Body, formatTime(s.clock()),
	)
	if err != nil {
		return 0, fmt.Errorf("record webhook failure: %w", err)
	}
	return res.LastInsertId()
}

// ListWebhookFailures returns dead-letter entries, newest first.
func (s *Store) ListWebhookFailures(ctx context.Context, includeResolved bool, limit int) ([]WebhookFailure, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, stage, external_job_id, reason, body, created_at, resolved FROM webhook_failures`
	if !includeResolved {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY id DESC LIMIT ?`

	var rows []webhookFailureRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("list webhook failures: %w", err)
	}
	out := make([]WebhookFailure, 0, len(rows))
	for _, row := range rows {
		failure := WebhookFailure{
			ID:       row.ID,
			Stage:    row.Stage,
			JobID:    row.JobID,
			Reason:   row.Reason,
			Body:     row.Body,
			Resolved: row.Resolved,
		}
		if t, err := parseTimeString(row.CreatedAt); err == nil {
			failure.CreatedAt = t
		}
		out = append(out, failure)
	}
	return out, nil
}

// ResolveWebhookFailure marks a dead-letter entry as handled.
func (s *Store) ResolveWebhookFailure(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(ctx, `UPDATE webhook_failures SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("resolve webhook failure: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("webhook failure %d: %w", id, ErrNotFound)
	}
	return nil
}
