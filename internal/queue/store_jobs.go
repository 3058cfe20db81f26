package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type jobRow struct {
	Stage       string         `db:"stage"`
	JobID       string         `db:"external_job_id"`
	WorkflowID  string         `db:"workflow_id"`
	PayloadHash string         `db:"payload_hash"`
	CreatedAt   string         `db:"created_at"`
	ProcessedAt sql.NullString `db:"processed_at"`
}

func (row jobRow) toEntry() *JobEntry {
	entry := &JobEntry{
		Stage:       Stage(row.Stage),
		JobID:       row.JobID,
		WorkflowID:  row.WorkflowID,
		PayloadHash: row.PayloadHash,
	}
	if t, err := parseTimeString(row.CreatedAt); err == nil {
		entry.CreatedAt = t
	}
	if row.ProcessedAt.Valid {
		if t, err := parseTimeString(row.ProcessedAt.String); err == nil {
			entry.ProcessedAt = &t
		}
	}
	return entry
}

// RegisterJob records that jobID for stage belongs to workflowID. Registering
// the same pair twice is a no-op; a job id owned by another record fails with
// ErrJobClaimed.
func (s *Store) RegisterJob(ctx context.Context, stage Stage, jobID, workflowID string) error {
	if jobID == "" {
		return errors.New("register job: empty job id")
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO job_index (stage, external_job_id, workflow_id, created_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(stage, external_job_id) DO NOTHING`,
		string(stage), jobID, workflowID, formatTime(s.clock()),
	)
	if err != nil {
		return fmt.Errorf("register job: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}
	existing, err := s.LookupJob(ctx, stage, jobID)
	if err != nil {
		return err
	}
	if existing.WorkflowID != workflowID {
		return fmt.Errorf("%w: %s job %s belongs to workflow %s", ErrJobClaimed, stage, jobID, existing.WorkflowID)
	}
	return nil
}

// LookupJob returns the index entry for (stage, jobID) or ErrNotFound.
func (s *Store) LookupJob(ctx context.Context, stage Stage, jobID string) (*JobEntry, error) {
	ctx = ensureContext(ctx)
	var row jobRow
	err := s.db.GetContext(ctx, &row,
		`SELECT stage, external_job_id, workflow_id, payload_hash, created_at, processed_at
         FROM job_index WHERE stage = ? AND external_job_id = ?`,
		string(stage), jobID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s job %s: %w", stage, jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup job: %w", err)
	}
	return row.toEntry(), nil
}

// MarkJobEvent swaps the stored event hash from prevHash to hash. It reports
// false when another delivery already changed the hash.
func (s *Store) MarkJobEvent(ctx context.Context, stage Stage, jobID, prevHash, hash string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE job_index SET payload_hash = ?, processed_at = ?
         WHERE stage = ? AND external_job_id = ? AND payload_hash = ?`,
		hash, formatTime(s.clock()), string(stage), jobID, prevHash,
	)
	if err != nil {
		return false, fmt.Errorf("mark job event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark job event rows affected: %w", err)
	}
	return affected == 1, nil
}

// RestoreJobEvent undoes MarkJobEvent so a redelivery can be processed.
func (s *Store) RestoreJobEvent(ctx context.Context, stage Stage, jobID, hash, prevHash string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE job_index SET payload_hash = ?, processed_at = NULL
         WHERE stage = ? AND external_job_id = ? AND payload_hash = ?`,
		prevHash, string(stage), jobID, hash,
	)
	if err != nil {
		return fmt.Errorf("restore job event: %w", err)
	}
	return nil
}

// JobsForWorkflow lists every job id ever issued for a record.
func (s *Store) JobsForWorkflow(ctx context.Context, workflowID string) ([]*JobEntry, error) {
	ctx = ensureContext(ctx)
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT stage, external_job_id, workflow_id, payload_hash, created_at, processed_at
         FROM job_index WHERE workflow_id = ? ORDER BY created_at, stage`,
		workflowID,
	); err != nil {
		return nil, fmt.Errorf("list workflow jobs: %w", err)
	}
	out := make([]*JobEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntry())
	}
	return out, nil
}
