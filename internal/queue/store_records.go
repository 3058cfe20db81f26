package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// mutateAttempts bounds the read-mutate-write loop in Mutate.
const mutateAttempts = 5

// Create inserts a new record and returns its id. Missing fields default to a
// queued record holding an empty render payload.
func (s *Store) Create(ctx context.Context, rec *Record) (string, error) {
	row, err := s.prepareInsert(rec)
	if err != nil {
		return "", err
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO workflows (`+recordColumns+`) VALUES (`+makePlaceholders(15)+`)`,
		insertArgs(row)...,
	)
	if err != nil {
		return "", fmt.Errorf("insert workflow: %w", err)
	}
	rec.ID = row.ID
	return row.ID, nil
}

// CreateWithinCap inserts rec only while fewer than limit records exist for the
// brand with created_at >= since. The count and insert are one statement, so
// concurrent admissions cannot overshoot. A limit <= 0 disables the check.
func (s *Store) CreateWithinCap(ctx context.Context, rec *Record, since time.Time, limit int) (string, error) {
	if limit <= 0 {
		return s.Create(ctx, rec)
	}
	row, err := s.prepareInsert(rec)
	if err != nil {
		return "", err
	}
	args := insertArgs(row)
	args = append(args, row.Brand, formatTime(since), limit)
	res, err := s.execWithRetry(ctx,
		`INSERT INTO workflows (`+recordColumns+`)
         SELECT `+makePlaceholders(15)+`
         WHERE (SELECT COUNT(1) FROM workflows WHERE brand = ? AND created_at >= ?) < ?`,
		args...,
	)
	if err != nil {
		return "", fmt.Errorf("insert workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("insert workflow rows affected: %w", err)
	}
	if affected == 0 {
		return "", fmt.Errorf("%w: brand %s reached %d admissions", ErrCapacityExceeded, row.Brand, limit)
	}
	rec.ID = row.ID
	return row.ID, nil
}

func (s *Store) prepareInsert(rec *Record) (recordRow, error) {
	if rec == nil {
		return recordRow{}, errors.New("record is nil")
	}
	if strings.TrimSpace(rec.Brand) == "" {
		return recordRow{}, errors.New("record brand is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusQueued
	}
	if _, ok := statusSet[rec.Status]; !ok {
		return recordRow{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, rec.Status)
	}
	if rec.Payload == nil {
		rec.Payload = RenderPayload{ContentRef: rec.ContentRef}
	}
	if rec.Status != StatusFailed {
		rec.Error = ""
	}
	now := s.clock()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.StageEnteredAt = now
	rec.LockToken = uuid.NewString()
	return rowFromRecord(rec)
}

func insertArgs(row recordRow) []any {
	return []any{
		row.ID, row.Brand, row.ContentRef, row.Status, row.Stage,
		row.PayloadKind, row.PayloadJSON,
		row.RenderAttempts, row.CaptionAttempts, row.DistributeAttempts,
		row.ErrorMessage, row.CreatedAt, row.UpdatedAt, row.StageEnteredAt, row.LockToken,
	}
}

// Get returns the record with id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	ctx = ensureContext(ctx)
	var row recordRow
	err := s.db.GetContext(ctx, &row, `SELECT `+recordColumns+` FROM workflows WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return row.toRecord()
}

// Update applies mutate to the stored record and writes it back only if the
// lock token still equals expectedToken. A stale token fails with ErrConflict.
// Errors returned by mutate abort the write and are passed through.
func (s *Store) Update(ctx context.Context, id string, mutate func(*Record) error, expectedToken string) (*Record, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, current, mutate, expectedToken)
}

// Mutate retries Update with a fresh read whenever another writer wins.
func (s *Store) Mutate(ctx context.Context, id string, mutate func(*Record) error) (*Record, error) {
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		updated, err := s.apply(ctx, current, mutate, current.LockToken)
		if errors.Is(err, ErrConflict) {
			continue
		}
		return updated, err
	}
	return nil, fmt.Errorf("workflow %s: gave up after %d attempts: %w", id, mutateAttempts, ErrConflict)
}

func (s *Store) apply(ctx context.Context, current *Record, mutate func(*Record) error, expectedToken string) (*Record, error) {
	if current.LockToken != expectedToken {
		return nil, fmt.Errorf("workflow %s: %w", current.ID, ErrConflict)
	}

	next := *current
	if mutate != nil {
		if err := mutate(&next); err != nil {
			return nil, err
		}
	}

	next.ID = current.ID
	next.Brand = current.Brand
	next.ContentRef = current.ContentRef
	next.CreatedAt = current.CreatedAt

	if err := checkWrite(current, &next); err != nil {
		return nil, err
	}

	now := s.clock()
	if next.Status != current.Status {
		next.StageEnteredAt = now
	} else {
		next.StageEnteredAt = current.StageEnteredAt
	}
	next.UpdatedAt = now
	next.LockToken = uuid.NewString()

	row, err := rowFromRecord(&next)
	if err != nil {
		return nil, err
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE workflows SET status = ?, stage = ?, payload_kind = ?, payload_json = ?, render_attempts = ?, caption_attempts = ?, distribute_attempts = ?, error_message = ?, updated_at = ?, stage_entered_at = ?, lock_token = ? WHERE id = ? AND lock_token = ?`,
		row.Status, row.Stage, row.PayloadKind, row.PayloadJSON,
		row.RenderAttempts, row.CaptionAttempts, row.DistributeAttempts,
		row.ErrorMessage, row.UpdatedAt, row.StageEnteredAt, row.LockToken,
		current.ID, expectedToken,
	)
	if err != nil {
		return nil, fmt.Errorf("update workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update workflow rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("workflow %s: %w", current.ID, ErrConflict)
	}
	return &next, nil
}

// checkWrite enforces the record invariants on every write and normalizes the
// fields the status implies.
func checkWrite(current, next *Record) error {
	if _, ok := statusSet[next.Status]; !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next.Status)
	}
	if current.Status.IsTerminal() && next.Status != StatusQueued {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, current.Status)
	}
	if next.Status != current.Status && !CanTransition(current.Status, next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next.Status)
	}
	if current.Status.IsTerminal() && next.Status == StatusQueued {
		next.Attempts = StageAttempts{}
		next.Stage = ""
	}
	if next.Status != StatusFailed {
		next.Error = ""
	}
	return nil
}

// QueryByStatus lists records in any of statuses, oldest first. An empty
// brand matches every brand; no statuses matches every status.
func (s *Store) QueryByStatus(ctx context.Context, brand string, statuses ...Status) ([]*Record, error) {
	ctx = ensureContext(ctx)
	clauses := make([]string, 0, 2)
	args := make([]any, 0, len(statuses)+1)
	if brand != "" {
		clauses = append(clauses, "brand = ?")
		args = append(args, brand)
	}
	if len(statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(statuses))+")")
		args = append(args, statusArgs(statuses)...)
	}
	query := `SELECT ` + recordColumns + ` FROM workflows`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query workflows by status: %w", err)
	}
	return rowsToRecords(rows)
}

// QueryStale lists records in statuses whose stage was entered before cutoff.
func (s *Store) QueryStale(ctx context.Context, statuses []Status, cutoff time.Time) ([]*Record, error) {
	ctx = ensureContext(ctx)
	if len(statuses) == 0 {
		return nil, nil
	}
	args := statusArgs(statuses)
	args = append(args, formatTime(cutoff))
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+recordColumns+` FROM workflows
         WHERE status IN (`+makePlaceholders(len(statuses))+`) AND stage_entered_at < ?
         ORDER BY stage_entered_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale workflows: %w", err)
	}
	return rowsToRecords(rows)
}

// ClaimNextQueued promotes the brand's oldest queued record to rendering when
// fewer than inFlightCap records are in flight. Returns nil when nothing was
// promoted. A cap <= 0 means unlimited.
func (s *Store) ClaimNextQueued(ctx context.Context, brand string, inFlightCap int) (*Record, error) {
	ctx = ensureContext(ctx)
	now := formatTime(s.clock())
	args := []any{
		string(StatusRendering), string(StageRender), now, now, uuid.NewString(),
		brand, string(StatusQueued),
		inFlightCap, brand,
	}
	args = append(args, statusArgs(InFlightStatuses)...)
	args = append(args, inFlightCap)

	var id string
	err := retryOnBusy(ctx, func() error {
		return s.db.GetContext(ctx, &id,
			`UPDATE workflows SET status = ?, stage = ?, updated_at = ?, stage_entered_at = ?, lock_token = ?
             WHERE id = (
                 SELECT id FROM workflows WHERE brand = ? AND status = ?
                 ORDER BY created_at, id LIMIT 1
             )
             AND (? <= 0 OR (
                 SELECT COUNT(1) FROM workflows WHERE brand = ? AND status IN (`+makePlaceholders(len(InFlightStatuses))+`)
             ) < ?)
             RETURNING id`,
			args...,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim queued workflow: %w", err)
	}
	return s.Get(ctx, id)
}

// QueuedBrands lists brands that have queued records.
func (s *Store) QueuedBrands(ctx context.Context) ([]string, error) {
	ctx = ensureContext(ctx)
	var brands []string
	if err := s.db.SelectContext(ctx, &brands,
		`SELECT DISTINCT brand FROM workflows WHERE status = ? ORDER BY brand`, string(StatusQueued),
	); err != nil {
		return nil, fmt.Errorf("query queued brands: %w", err)
	}
	return brands, nil
}

// CountCreatedSince returns how many records the brand admitted at or after since.
func (s *Store) CountCreatedSince(ctx context.Context, brand string, since time.Time) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(1) FROM workflows WHERE brand = ? AND created_at >= ?`, brand, formatTime(since),
	); err != nil {
		return 0, fmt.Errorf("count admissions: %w", err)
	}
	return count, nil
}

// CountInFlight returns how many of the brand's records hold an in-flight status.
func (s *Store) CountInFlight(ctx context.Context, brand string) (int, error) {
	ctx = ensureContext(ctx)
	args := append([]any{brand}, statusArgs(InFlightStatuses)...)
	var count int
	if err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(1) FROM workflows WHERE brand = ? AND status IN (`+makePlaceholders(len(InFlightStatuses))+`)`,
		args...,
	); err != nil {
		return 0, fmt.Errorf("count in-flight: %w", err)
	}
	return count, nil
}
