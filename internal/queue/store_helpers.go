package queue

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed width so lexical order in SQLite matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const recordColumns = "id, brand, content_ref, status, stage, payload_kind, payload_json, render_attempts, caption_attempts, distribute_attempts, error_message, created_at, updated_at, stage_entered_at, lock_token"

// recordRow mirrors one workflows row.
type recordRow struct {
	ID                 string         `db:"id"`
	Brand              string         `db:"brand"`
	ContentRef         string         `db:"content_ref"`
	Status             string         `db:"status"`
	Stage              string         `db:"stage"`
	PayloadKind        string         `db:"payload_kind"`
	PayloadJSON        string         `db:"payload_json"`
	RenderAttempts     int            `db:"render_attempts"`
	CaptionAttempts    int            `db:"caption_attempts"`
	DistributeAttempts int            `db:"distribute_attempts"`
	ErrorMessage       sql.NullString `db:"error_message"`
	CreatedAt          string         `db:"created_at"`
	UpdatedAt          string         `db:"updated_at"`
	StageEnteredAt     string         `db:"stage_entered_at"`
	LockToken          string         `db:"lock_token"`
}

func (row recordRow) toRecord() (*Record, error) {
	payload, err := decodePayload(row.PayloadKind, row.PayloadJSON)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", row.ID, err)
	}
	rec := &Record{
		ID:         row.ID,
		Brand:      row.Brand,
		ContentRef: row.ContentRef,
		Status:     Status(row.Status),
		Stage:      Stage(row.Stage),
		Payload:    payload,
		Attempts: StageAttempts{
			Render:     row.RenderAttempts,
			Caption:    row.CaptionAttempts,
			Distribute: row.DistributeAttempts,
		},
		Error:     row.ErrorMessage.String,
		LockToken: row.LockToken,
	}
	if t, err := parseTimeString(row.CreatedAt); err == nil {
		rec.CreatedAt = t
	}
	if t, err := parseTimeString(row.UpdatedAt); err == nil {
		rec.UpdatedAt = t
	}
	if t, err := parseTimeString(row.StageEnteredAt); err == nil {
		rec.StageEnteredAt = t
	}
	return rec, nil
}

func rowFromRecord(rec *Record) (recordRow, error) {
	kind, raw, err := encodePayload(rec.Payload)
	if err != nil {
		return recordRow{}, err
	}
	return recordRow{
		ID:                 rec.ID,
		Brand:              rec.Brand,
		ContentRef:         rec.ContentRef,
		Status:             string(rec.Status),
		Stage:              string(rec.Stage),
		PayloadKind:        kind,
		PayloadJSON:        raw,
		RenderAttempts:     rec.Attempts.Render,
		CaptionAttempts:    rec.Attempts.Caption,
		DistributeAttempts: rec.Attempts.Distribute,
		ErrorMessage:       sql.NullString{String: rec.Error, Valid: rec.Error != ""},
		CreatedAt:          formatTime(rec.CreatedAt),
		UpdatedAt:          formatTime(rec.UpdatedAt),
		StageEnteredAt:     formatTime(rec.StageEnteredAt),
		LockToken:          rec.LockToken,
	}, nil
}

func rowsToRecords(rows []recordRow) ([]*Record, error) {
	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func statusArgs(statuses []Status) []any {
	args := make([]any, 0, len(statuses))
	for _, status := range statuses {
		args = append(args, string(status))
	}
	return args
}
