package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"contentflow/internal/events"
	"contentflow/internal/logging"
	"contentflow/internal/queue"
	"contentflow/internal/services"
	"contentflow/internal/stage"
	"contentflow/internal/telemetry"
)

var (
	// ErrTerminal is returned when an operation needs a non-terminal record.
	ErrTerminal = errors.New("workflow is terminal")
	// ErrNotTerminal is returned by Reset for records still in progress.
	ErrNotTerminal = errors.New("workflow is not terminal")
	// ErrBudgetExhausted is returned by Retry once the stage used its budget.
	ErrBudgetExhausted = errors.New("retry budget exhausted")
	// ErrNotHandoff is returned by Advance when the record is not between stages.
	ErrNotHandoff = errors.New("workflow is not between stages")
	// ErrWrongStatus is returned when a stage operation targets a record in another stage.
	ErrWrongStatus = errors.New("workflow is not in the expected status")
)

// Publisher receives every status change.
type Publisher interface {
	Publish(events.Transition) error
}

// Engine drives records through the stage state machine. Every write goes
// through the store's conditional update, so any number of engines may share
// one store.
type Engine struct {
	store   *queue.Store
	clients stage.Set
	bus     Publisher
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPublisher sends transitions to p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.bus = p }
}

// WithMetrics records transitions on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source used for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an engine over store using clients for the external stages.
func New(store *queue.Store, clients stage.Set, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		clients: clients,
		logger:  logging.NewComponentLogger(logger, "engine"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the backing store.
func (e *Engine) Store() *queue.Store {
	return e.store
}

// Clients exposes the configured stage clients.
func (e *Engine) Clients() stage.Set {
	return e.clients
}

// PromoteNext moves the brand's oldest queued record to rendering when fewer
// than inFlightCap records are in flight, then starts the render job. It
// returns nil when nothing was promoted.
func (e *Engine) PromoteNext(ctx context.Context, brand string, inFlightCap int) (*queue.Record, error) {
	rec, err := e.store.ClaimNextQueued(ctx, brand, inFlightCap)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	e.emit(ctx, queue.StatusQueued, rec)
	return e.startStage(ctx, rec)
}

// Advance moves a record from render_complete to captioning or from
// caption_complete to distributing and starts the next job with the previous
// stage's output.
func (e *Engine) Advance(ctx context.Context, id string) (*queue.Record, error) {
	var from queue.Status
	rec, err := e.store.Mutate(ctx, id, func(r *queue.Record) error {
		if r.Status != queue.StatusRenderComplete && r.Status != queue.StatusCaptionComplete {
			return fmt.Errorf("%w: %s", ErrNotHandoff, r.Status)
		}
		current, _ := queue.StageForStatus(r.Status)
		next, ok := current.Next()
		if !ok {
			return fmt.Errorf("%w: %s has no next stage", ErrNotHandoff, current)
		}
		resultURL := ""
		if r.Payload != nil {
			resultURL = r.Payload.ResultURL()
		}
		payload, err := queue.NewPayload(next, resultURL)
		if err != nil {
			return err
		}
		from = r.Status
		r.Status = next.ActiveStatus()
		r.Stage = next
		r.Payload = payload
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, from, rec)
	return e.startStage(ctx, rec)
}

// Retry abandons the stage's current job and starts a fresh one, consuming
// one attempt of budget. A record already in retrying resumes without
// consuming another attempt.
func (e *Engine) Retry(ctx context.Context, id string, st queue.Stage, budget int) (*queue.Record, error) {
	var (
		oldJob string
		from   queue.Status
	)
	rec, err := e.store.Mutate(ctx, id, func(r *queue.Record) error {
		if r.IsTerminal() {
			return ErrTerminal
		}
		from = r.Status
		if r.Status == queue.StatusRetrying && r.Stage == st {
			return nil
		}
		if r.Status != st.ActiveStatus() {
			return fmt.Errorf("%w: %s is %s", ErrWrongStatus, st, r.Status)
		}
		if r.Attempts.Get(st) >= budget {
			return fmt.Errorf("%w: %s used %d of %d", ErrBudgetExhausted, st, r.Attempts.Get(st), budget)
		}
		oldJob = r.JobID()
		r.Attempts.Inc(st)
		r.Status = queue.StatusRetrying
		r.Payload = queue.WithJob(r.Payload, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, from, rec)
	e.cancelJob(ctx, rec, st, oldJob)

	rec, err = e.store.Mutate(ctx, id, func(r *queue.Record) error {
		if r.Status != queue.StatusRetrying || r.Stage != st {
			return fmt.Errorf("%w: %s is %s", ErrWrongStatus, st, r.Status)
		}
		r.Status = st.ActiveStatus()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, queue.StatusRetrying, rec)
	return e.startStage(ctx, rec)
}

// Fail moves any non-terminal record to failed with reason.
func (e *Engine) Fail(ctx context.Context, id, reason string) (*queue.Record, error) {
	var from queue.Status
	rec, err := e.store.Mutate(ctx, id, func(r *queue.Record) error {
		if r.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrTerminal, r.Status)
		}
		from = r.Status
		r.Status = queue.StatusFailed
		r.Error = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, from, rec)
	return rec, nil
}

// Cancel fails the record with reason "cancelled" and asks the vendor to stop
// the current job. Vendors that cannot cancel are left to finish; their late
// events no longer match the record.
func (e *Engine) Cancel(ctx context.Context, id string) (*queue.Record, error) {
	current, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	jobID := current.JobID()
	st := current.Stage
	rec, err := e.Fail(ctx, id, queue.CancelledReason)
	if err != nil {
		return nil, err
	}
	e.cancelJob(ctx, rec, st, jobID)
	return rec, nil
}

// Reset returns a completed or failed record to queued with attempts zeroed
// and the render payload rebuilt.
func (e *Engine) Reset(ctx context.Context, id string) (*queue.Record, error) {
	var from queue.Status
	rec, err := e.store.Mutate(ctx, id, func(r *queue.Record) error {
		if !r.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrNotTerminal, r.Status)
		}
		from = r.Status
		r.Status = queue.StatusQueued
		r.Payload = queue.RenderPayload{ContentRef: r.ContentRef}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, from, rec)
	return rec, nil
}

// startStage issues the start call for the record's current stage and stores
// the returned job id. Vendor failures are handled here: a permanent error
// fails the record, a transient one leaves it for the recovery sweep.
func (e *Engine) startStage(ctx context.Context, rec *queue.Record) (*queue.Record, error) {
	st := rec.Stage
	logger := e.recordLogger(rec)
	client, err := e.clients.For(st)
	if err != nil {
		return e.Fail(ctx, rec.ID, fmt.Sprintf("%s: %v", st, err))
	}

	attempt := rec.Attempts.Get(st)
	input := ""
	if rec.Payload != nil {
		input = rec.Payload.Input()
	}
	jobID, err := client.Start(ctx, stage.StartRequest{
		RecordID:       rec.ID,
		Brand:          rec.Brand,
		Stage:          st,
		Input:          input,
		IdempotencyKey: stage.IdempotencyKey(rec.ID, st, attempt),
	})
	if err != nil {
		if services.IsPermanent(err) {
			logging.ErrorWithContext(logger, "stage start rejected", "stage_start_rejected",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "vendor refused the job; fix the input and reset the workflow"),
			)
			return e.Fail(ctx, rec.ID, fmt.Sprintf("%s: %v", st, err))
		}
		logging.WarnWithContext(logger, "stage start failed; recovery sweep will retry", "stage_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check vendor availability"),
			logging.String(logging.FieldImpact, "workflow waits for the next recovery sweep"),
		)
		return rec, nil
	}

	if err := e.store.RegisterJob(ctx, st, jobID, rec.ID); err != nil {
		if errors.Is(err, queue.ErrJobClaimed) {
			return e.Fail(ctx, rec.ID, fmt.Sprintf("%s: %v", st, err))
		}
		return nil, err
	}

	updated, err := e.store.Mutate(ctx, rec.ID, func(r *queue.Record) error {
		if r.Status != st.ActiveStatus() || r.JobID() != "" || r.Attempts.Get(st) != attempt {
			return fmt.Errorf("%w: %s moved to %s before job %s was recorded", ErrWrongStatus, st, r.Status, jobID)
		}
		r.Payload = queue.WithJob(r.Payload, jobID)
		return nil
	})
	if errors.Is(err, ErrWrongStatus) {
		logger.Info("record moved on while job started; cancelling orphan job",
			logging.JobID(jobID),
			logging.String(logging.FieldEventType, "stage_job_orphaned"),
		)
		e.cancelJob(ctx, rec, st, jobID)
		return e.store.Get(ctx, rec.ID)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("stage job started",
		logging.JobID(jobID),
		logging.Int("attempt", attempt),
		logging.String(logging.FieldEventType, "stage_started"),
	)
	return updated, nil
}

func (e *Engine) cancelJob(ctx context.Context, rec *queue.Record, st queue.Stage, jobID string) {
	if jobID == "" || st == "" {
		return
	}
	client, err := e.clients.For(st)
	if err != nil {
		return
	}
	if err := client.Cancel(ctx, jobID); err != nil && !errors.Is(err, stage.ErrCancelUnsupported) {
		logging.WarnWithContext(e.recordLogger(rec), "vendor cancel failed", "stage_cancel_failed",
			logging.JobID(jobID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the job may still finish; its events will be ignored"),
			logging.String(logging.FieldImpact, "vendor quota may be spent on an abandoned job"),
		)
	}
}

// emit logs, counts and publishes a status change.
func (e *Engine) emit(ctx context.Context, from queue.Status, rec *queue.Record) {
	if rec == nil || from == rec.Status {
		return
	}
	e.recordLogger(rec).Info("workflow transition",
		logging.String("from", string(from)),
		logging.String(logging.FieldStatus, string(rec.Status)),
		logging.String(logging.FieldEventType, "workflow_transition"),
	)
	e.metrics.Transition(ctx, rec.Brand, string(from), string(rec.Status))
	if e.bus == nil {
		return
	}
	t := events.Transition{
		WorkflowID: rec.ID,
		Brand:      rec.Brand,
		Stage:      string(rec.Stage),
		From:       string(from),
		To:         string(rec.Status),
		JobID:      rec.JobID(),
		Error:      rec.Error,
		At:         e.now().UTC(),
	}
	if rec.Payload != nil {
		t.ResultURL = rec.Payload.ResultURL()
	}
	if err := e.bus.Publish(t); err != nil {
		logging.WarnWithContext(e.logger, "transition publish failed", "transition_publish_failed",
			logging.WorkflowID(rec.ID),
			logging.Error(err),
		)
	}
}

func (e *Engine) recordLogger(rec *queue.Record) *slog.Logger {
	return e.logger.With(logging.Workflow(rec.ID, rec.Brand, string(rec.Stage))...)
}
