package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"contentflow/internal/logging"
	"contentflow/internal/queue"
)

// EventOutcome is the result a vendor reported for a job.
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
)

// ParseEventOutcome accepts success/failure and common vendor synonyms.
func ParseEventOutcome(value string) (EventOutcome, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "success", "succeeded", "completed", "complete", "done", "published":
		return OutcomeSuccess, true
	case "failure", "failed", "error", "errored":
		return OutcomeFailure, true
	}
	return "", false
}

// Event is a normalized stage result, from a webhook or a status poll.
type Event struct {
	Stage        queue.Stage
	WorkflowID   string
	JobID        string
	Outcome      EventOutcome
	ResultURL    string
	ErrorMessage string
}

// Outcome reports what Apply did with an event.
type Outcome int

const (
	// Applied means the event moved the record.
	Applied Outcome = iota
	// Stale means the record is in another status or waits on another job.
	Stale
	// Terminal means the record already completed or failed.
	Terminal
	// Pending means the job was started for the record's current stage but
	// its id is not on the record yet. The event should be delivered again.
	Pending
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case Terminal:
		return "terminal"
	case Pending:
		return "pending"
	}
	return "unknown"
}

// ErrMissingResult rejects render and caption successes that carry no output URL.
var ErrMissingResult = errors.New("missing result url")

var (
	errStaleEvent    = errors.New("stale event")
	errTerminalEvent = errors.New("terminal record")
)

// Apply feeds a stage result into the state machine. Success moves the active
// status to its complete status and immediately advances to the next stage;
// failure fails the record with a stage-identified error. Events for terminal
// records or for a job the record no longer waits on change nothing.
func (e *Engine) Apply(ctx context.Context, ev Event) (Outcome, *queue.Record, error) {
	if ev.Outcome != OutcomeSuccess && ev.Outcome != OutcomeFailure {
		return Stale, nil, fmt.Errorf("unknown event outcome %q", ev.Outcome)
	}
	if ev.Outcome == OutcomeSuccess && ev.Stage != queue.StageDistribute && strings.TrimSpace(ev.ResultURL) == "" {
		return Stale, nil, fmt.Errorf("%w: %s success without result url", ErrMissingResult, ev.Stage)
	}
	var from queue.Status
	rec, err := e.store.Mutate(ctx, ev.WorkflowID, func(r *queue.Record) error {
		if r.IsTerminal() {
			return errTerminalEvent
		}
		if r.Status != ev.Stage.ActiveStatus() || r.JobID() == "" || r.JobID() != ev.JobID {
			return errStaleEvent
		}
		from = r.Status
		if ev.Outcome == OutcomeSuccess {
			r.Status = ev.Stage.CompleteStatus()
			r.Payload = queue.WithResult(r.Payload, ev.ResultURL)
			return nil
		}
		r.Status = queue.StatusFailed
		r.Error = stageError(ev.Stage, ev.ErrorMessage)
		return nil
	})

	logger := e.logger.With(
		logging.WorkflowID(ev.WorkflowID),
		logging.Stage(string(ev.Stage)),
		logging.JobID(ev.JobID),
	)
	switch {
	case errors.Is(err, errTerminalEvent):
		logging.WarnWithContext(logger, "duplicate event for terminal workflow", "event_duplicate_terminal",
			logging.String("outcome", string(ev.Outcome)),
			logging.String(logging.FieldErrorHint, "vendor redelivered an event after the workflow finished"),
			logging.String(logging.FieldImpact, "none; event ignored"),
		)
		current, getErr := e.store.Get(ctx, ev.WorkflowID)
		if getErr != nil {
			return Terminal, nil, nil
		}
		return Terminal, current, nil
	case errors.Is(err, errStaleEvent):
		current, getErr := e.store.Get(ctx, ev.WorkflowID)
		if getErr != nil {
			return Stale, nil, nil
		}
		if e.awaitingJob(ctx, current, ev) {
			logger.Info("event arrived before its job was recorded",
				logging.String("outcome", string(ev.Outcome)),
				logging.String(logging.FieldEventType, "event_pending"),
			)
			return Pending, current, nil
		}
		logger.Info("dropping stale event",
			logging.String("outcome", string(ev.Outcome)),
			logging.String(logging.FieldEventType, "event_stale"),
		)
		return Stale, current, nil
	case err != nil:
		return Stale, nil, err
	}

	e.emit(ctx, from, rec)
	if ev.Outcome == OutcomeFailure || rec.Status == queue.StatusCompleted {
		return Applied, rec, nil
	}

	advanced, err := e.Advance(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, ErrNotHandoff) {
			current, getErr := e.store.Get(ctx, rec.ID)
			if getErr == nil {
				return Applied, current, nil
			}
			return Applied, rec, nil
		}
		logging.WarnWithContext(logger, "advance after stage completion failed", "stage_advance_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "workflow waits for the recovery sweep to hand off"),
		)
		return Applied, rec, nil
	}
	return Applied, advanced, nil
}

func stageError(st queue.Stage, message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "vendor reported failure"
	}
	return fmt.Sprintf("%s: %s", st, message)
}

// awaitingJob reports whether rec is in ev's active stage with no job recorded
// while ev's job was registered for that same stage entry. That window lies
// between RegisterJob and the record write in startStage.
func (e *Engine) awaitingJob(ctx context.Context, rec *queue.Record, ev Event) bool {
	if rec == nil || rec.Status != ev.Stage.ActiveStatus() || rec.JobID() != "" {
		return false
	}
	entry, err := e.store.LookupJob(ctx, ev.Stage, ev.JobID)
	if err != nil || entry.WorkflowID != rec.ID {
		return false
	}
	return !entry.CreatedAt.Before(rec.StageEnteredAt)
}
