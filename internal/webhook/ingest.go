package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"contentflow/internal/config"
	"contentflow/internal/engine"
	"contentflow/internal/logging"
	"contentflow/internal/queue"
	"contentflow/internal/telemetry"
)

// maxStoredBody bounds the body kept in the dead-letter log.
const maxStoredBody = 16 << 10

var (
	// ErrUnauthenticated marks events whose signature did not verify.
	ErrUnauthenticated = errors.New("webhook unauthenticated")
	// ErrMalformed marks events that could not be normalized.
	ErrMalformed = errMalformed
	// ErrNotReady marks events for a job the workflow has not recorded yet.
	// Nothing was applied and the vendor should deliver the event again.
	ErrNotReady = errors.New("webhook job not recorded yet")
)

// Outcome is what Ingest did with an event.
type Outcome string

const (
	Accepted  Outcome = "accepted"
	Duplicate Outcome = "duplicate"
	Rejected  Outcome = "rejected"
)

// RawEvent is an inbound delivery as received.
type RawEvent struct {
	Body   []byte
	Header http.Header
}

// Result describes the handling of one delivery.
type Result struct {
	Outcome    Outcome
	Reason     string
	WorkflowID string
	JobID      string
	Status     queue.Status
}

// Ingestor authenticates vendor events and feeds them to the engine exactly
// once per distinct payload.
type Ingestor struct {
	cfg     config.Webhooks
	store   *queue.Store
	engine  *engine.Engine
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// Option customizes an Ingestor.
type Option func(*Ingestor)

// WithMetrics counts outcomes on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(i *Ingestor) { i.metrics = m }
}

// New constructs an ingestor.
func New(cfg config.Webhooks, eng *engine.Engine, logger *slog.Logger, opts ...Option) *Ingestor {
	i := &Ingestor{
		cfg:    cfg,
		store:  eng.Store(),
		engine: eng,
		logger: logging.NewComponentLogger(logger, "webhook"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Ingestor) source(st queue.Stage) config.WebhookSource {
	switch st {
	case queue.StageRender:
		return i.cfg.Render
	case queue.StageCaption:
		return i.cfg.Caption
	case queue.StageDistribute:
		return i.cfg.Distribute
	}
	return config.WebhookSource{}
}

// Ingest verifies, normalizes, deduplicates and applies one delivery.
// Rejected deliveries return an error wrapping ErrUnauthenticated or
// ErrMalformed. Any other error means the event could not be processed and
// the vendor should redeliver it.
func (i *Ingestor) Ingest(ctx context.Context, st queue.Stage, raw RawEvent) (Result, error) {
	logger := i.logger.With(logging.Stage(string(st)))
	src := i.source(st)

	if i.cfg.InsecureSkipVerify {
		logging.WarnWithContext(logger, "webhook signature verification disabled", "webhook_verify_skipped",
			logging.String(logging.FieldErrorHint, "set webhooks.insecure_skip_verify = false outside local testing"),
			logging.String(logging.FieldImpact, "unauthenticated events are accepted"),
			logging.Alert("insecure_webhooks"),
		)
	} else {
		switch {
		case src.Secret == "":
			return i.reject(ctx, st, "", raw, fmt.Errorf("%w: no webhook secret configured for %s", ErrUnauthenticated, st))
		case !verifySignature(src, raw.Header.Get(src.SignatureHeader), raw.Body):
			return i.reject(ctx, st, "", raw, fmt.Errorf("%w: invalid signature", ErrUnauthenticated))
		}
	}

	event, err := Normalize(src.Format, st, raw.Body)
	if err != nil {
		return i.reject(ctx, st, "", raw, err)
	}
	logger = logger.With(logging.JobID(event.JobID))

	entry, err := i.store.LookupJob(ctx, st, event.JobID)
	if errors.Is(err, queue.ErrNotFound) {
		logger.Info("dropping event for unknown job",
			logging.String(logging.FieldEventType, "webhook_unknown_job"),
		)
		return i.finish(ctx, st, Result{Outcome: Duplicate, Reason: "unknown job id", JobID: event.JobID}), nil
	}
	if err != nil {
		return Result{}, err
	}
	result := Result{WorkflowID: entry.WorkflowID, JobID: event.JobID}
	logger = logger.With(logging.WorkflowID(entry.WorkflowID))

	hash := event.Hash(st)
	if entry.PayloadHash == hash {
		logger.Info("duplicate webhook delivery", logging.String(logging.FieldEventType, "webhook_duplicate"))
		result.Outcome, result.Reason = Duplicate, "already processed"
		return i.finish(ctx, st, result), nil
	}
	claimed, err := i.store.MarkJobEvent(ctx, st, event.JobID, entry.PayloadHash, hash)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		logger.Info("concurrent webhook delivery lost the claim", logging.String(logging.FieldEventType, "webhook_duplicate"))
		result.Outcome, result.Reason = Duplicate, "processed concurrently"
		return i.finish(ctx, st, result), nil
	}

	outcome, rec, err := i.engine.Apply(ctx, engine.Event{
		Stage:        st,
		WorkflowID:   entry.WorkflowID,
		JobID:        event.JobID,
		Outcome:      event.Outcome,
		ResultURL:    event.ResultURL,
		ErrorMessage: event.ErrorMessage,
	})
	if err != nil {
		if restoreErr := i.store.RestoreJobEvent(ctx, st, event.JobID, hash, entry.PayloadHash); restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
		i.deadLetter(ctx, st, event.JobID, raw, err)
		logging.ErrorWithContext(logger, "webhook apply failed", "webhook_apply_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "vendor will redeliver; inspect `contentflow webhooks failures`"),
		)
		i.metrics.Webhook(ctx, string(st), "error")
		return Result{}, err
	}
	if rec != nil {
		result.Status = rec.Status
	}
	if outcome == engine.Pending {
		if err := i.store.RestoreJobEvent(ctx, st, event.JobID, hash, entry.PayloadHash); err != nil {
			return Result{}, fmt.Errorf("release claim for pending event: %w", err)
		}
		logger.Info("deferring event until the job is recorded",
			logging.String(logging.FieldEventType, "webhook_deferred"),
		)
		i.metrics.Webhook(ctx, string(st), "deferred")
		return result, fmt.Errorf("%w: %s job %s", ErrNotReady, st, event.JobID)
	}
	if outcome == engine.Applied {
		result.Outcome = Accepted
	} else {
		result.Outcome, result.Reason = Duplicate, outcome.String()
	}
	return i.finish(ctx, st, result), nil
}

func (i *Ingestor) reject(ctx context.Context, st queue.Stage, jobID string, raw RawEvent, cause error) (Result, error) {
	logging.WarnWithContext(i.logger, "webhook rejected", "webhook_rejected",
		logging.Stage(string(st)),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "check the vendor's webhook secret and envelope format"),
		logging.String(logging.FieldImpact, "event dropped; recovery sweep polls the job instead"),
	)
	i.deadLetter(ctx, st, jobID, raw, cause)
	i.metrics.Webhook(ctx, string(st), string(Rejected))
	return Result{Outcome: Rejected, Reason: cause.Error(), JobID: jobID}, cause
}

func (i *Ingestor) deadLetter(ctx context.Context, st queue.Stage, jobID string, raw RawEvent, cause error) {
	body := raw.Body
	if len(body) > maxStoredBody {
		body = body[:maxStoredBody]
	}
	if _, err := i.store.RecordWebhookFailure(ctx, queue.WebhookFailure{
		Stage:  string(st),
		JobID:  jobID,
		Reason: cause.Error(),
		Body:   string(body),
	}); err != nil {
		logging.ErrorWithContext(i.logger, "dead-letter write failed", "webhook_dead_letter_failed",
			logging.Stage(string(st)),
			logging.Error(err),
		)
	}
}

func (i *Ingestor) finish(ctx context.Context, st queue.Stage, result Result) Result {
	i.metrics.Webhook(ctx, string(st), string(result.Outcome))
	return result
}
