package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"contentflow/internal/config"
	"contentflow/internal/engine"
	"contentflow/internal/lease"
	"contentflow/internal/logging"
	"contentflow/internal/queue"
	"contentflow/internal/stage"
	"contentflow/internal/telemetry"
)

// LeaseName is the lease every sweep must hold.
const LeaseName = "failsafe-sweep"

// Report summarizes one sweep.
type Report struct {
	Skipped   bool     `json:"skipped"`
	Recovered []string `json:"recovered"`
	Failed    []string `json:"failed"`
	Errors    int      `json:"errors"`
}

type action int

const (
	actionNone action = iota
	actionRecovered
	actionFailed
)

// Sweeper finds and repairs stuck workflows.
type Sweeper struct {
	cfg     *config.Config
	store   *queue.Store
	engine  *engine.Engine
	locker  lease.Locker
	owner   string
	backoff Backoff
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time

	running sync.Mutex
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithLocker replaces the store-backed lease with another backend.
func WithLocker(l lease.Locker) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithOwner sets the lease owner prefix, normally the process session id.
// Every Sweep call adds its own suffix.
func WithOwner(owner string) Option {
	return func(s *Sweeper) {
		if owner != "" {
			s.owner = owner
		}
	}
}

// WithMetrics counts sweeps on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithClock overrides the time source used for staleness and backoff.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a sweeper. The store doubles as the lease backend unless
// WithLocker says otherwise.
func New(cfg *config.Config, eng *engine.Engine, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		cfg:    cfg,
		store:  eng.Store(),
		engine: eng,
		locker: eng.Store(),
		owner:  uuid.NewString(),
		backoff: Backoff{
			Base: time.Duration(cfg.Recovery.BackoffBaseSeconds) * time.Second,
			Max:  time.Duration(cfg.Recovery.BackoffMaxSeconds) * time.Second,
		},
		logger: logging.NewComponentLogger(logger, "recovery"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ErrLeaseLost stops a sweep whose lease was taken over before it finished.
var ErrLeaseLost = errors.New("sweep lease lost")

// Sweep runs one pass. When another sweep, in this process or elsewhere,
// holds the lease it returns a skipped report without touching any record.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		s.logger.Info("sweep skipped; another sweep is running in this process",
			logging.String(logging.FieldEventType, "sweep_skipped"),
		)
		s.metrics.Sweep(ctx, true, 0, 0)
		return Report{Skipped: true}, nil
	}
	defer s.running.Unlock()

	held := &heldLease{
		locker: s.locker,
		owner:  s.owner + ":" + uuid.NewString(),
		ttl:    time.Duration(s.cfg.Recovery.LeaseTTLSeconds) * time.Second,
		now:    s.now,
	}
	acquired, err := held.acquire(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("acquire sweep lease: %w", err)
	}
	if !acquired {
		s.logger.Info("sweep skipped; lease held elsewhere",
			logging.String(logging.FieldEventType, "sweep_skipped"),
		)
		s.metrics.Sweep(ctx, true, 0, 0)
		return Report{Skipped: true}, nil
	}
	defer func() {
		// Release on a fresh context so a cancelled sweep still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.locker.ReleaseLease(releaseCtx, LeaseName, held.owner); err != nil {
			logging.WarnWithContext(s.logger, "sweep lease release failed", "sweep_lease_release_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the lease expires on its own after recovery.lease_ttl_seconds"),
			)
		}
	}()

	candidates, err := s.candidates(ctx)
	if err != nil {
		return Report{}, err
	}

	var (
		mu     sync.Mutex
		report Report
	)
	byBrand := groupByBrand(candidates)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Recovery.Parallelism)
	for _, brand := range sortedKeys(byBrand) {
		records := byBrand[brand]
		g.Go(func() error {
			for _, rec := range records {
				if gctx.Err() != nil {
					return nil
				}
				if err := held.keep(gctx); err != nil {
					return err
				}
				act, err := s.handle(gctx, rec)
				mu.Lock()
				switch {
				case err != nil:
					report.Errors++
				case act == actionRecovered:
					report.Recovered = append(report.Recovered, rec.ID)
				case act == actionFailed:
					report.Failed = append(report.Failed, rec.ID)
				}
				mu.Unlock()
				if err != nil {
					logging.ErrorWithContext(s.logger, "sweep could not repair workflow", "sweep_record_failed",
						logging.WorkflowID(rec.ID),
						logging.String(logging.FieldBrand, rec.Brand),
						logging.String(logging.FieldStatus, string(rec.Status)),
						logging.Error(err),
						logging.String(logging.FieldErrorHint, "the next sweep retries this workflow"),
					)
				}
			}
			return nil
		})
	}
	waitErr := g.Wait()
	sort.Strings(report.Recovered)
	sort.Strings(report.Failed)

	s.metrics.Sweep(ctx, false, len(report.Recovered), len(report.Failed))
	if waitErr != nil {
		logging.WarnWithContext(s.logger, "sweep stopped early", "sweep_aborted",
			logging.Error(waitErr),
			logging.Int("recovered", len(report.Recovered)),
			logging.Int("failed", len(report.Failed)),
			logging.String(logging.FieldErrorHint, "raise recovery.lease_ttl_seconds if sweeps outlive their lease"),
			logging.String(logging.FieldImpact, "remaining workflows wait for the next sweep"),
		)
		return report, waitErr
	}
	s.logger.Info("sweep finished",
		logging.String(logging.FieldEventType, "sweep_finished"),
		logging.Int("candidates", len(candidates)),
		logging.Int("recovered", len(report.Recovered)),
		logging.Int("failed", len(report.Failed)),
		logging.Int("errors", report.Errors),
	)
	return report, ctx.Err()
}

// heldLease tracks the sweep lease for one Sweep call and renews it once a
// third of its ttl has passed.
type heldLease struct {
	locker lease.Locker
	owner  string
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	renewedAt time.Time
	lost      bool
}

func (h *heldLease) acquire(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ok, err := h.locker.AcquireLease(ctx, LeaseName, h.owner, h.ttl)
	if ok {
		h.renewedAt = h.now()
	}
	return ok, err
}

// keep renews the lease when due. It fails with ErrLeaseLost once another
// owner has taken the lease.
func (h *heldLease) keep(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost {
		return ErrLeaseLost
	}
	if h.ttl <= 0 || h.now().Sub(h.renewedAt) < h.ttl/3 {
		return nil
	}
	ok, err := h.locker.RenewLease(ctx, LeaseName, h.owner, h.ttl)
	if err != nil {
		return fmt.Errorf("renew sweep lease: %w", err)
	}
	if !ok {
		h.lost = true
		return ErrLeaseLost
	}
	h.renewedAt = h.now()
	return nil
}

// candidates lists records whose current stage outlived its timeout.
func (s *Sweeper) candidates(ctx context.Context) ([]*queue.Record, error) {
	now := s.now()
	seen := make(map[string]struct{})
	var out []*queue.Record
	add := func(records []*queue.Record) {
		for _, rec := range records {
			if _, ok := seen[rec.ID]; ok {
				continue
			}
			seen[rec.ID] = struct{}{}
			out = append(out, rec)
		}
	}

	for _, st := range queue.Stages {
		records, err := s.store.QueryStale(ctx, []queue.Status{st.ActiveStatus()}, now.Add(-s.cfg.StageTimeout(string(st))))
		if err != nil {
			return nil, err
		}
		add(records)
	}

	retrying, err := s.store.QueryStale(ctx, []queue.Status{queue.StatusRetrying}, now)
	if err != nil {
		return nil, err
	}
	for _, rec := range retrying {
		if rec.StageEnteredAt.Before(now.Add(-s.cfg.StageTimeout(string(rec.Stage)))) {
			add([]*queue.Record{rec})
		}
	}

	handoff := time.Duration(s.cfg.Recovery.HandoffTimeoutSeconds) * time.Second
	handoffs, err := s.store.QueryStale(ctx,
		[]queue.Status{queue.StatusRenderComplete, queue.StatusCaptionComplete}, now.Add(-handoff))
	if err != nil {
		return nil, err
	}
	add(handoffs)
	return out, nil
}

func (s *Sweeper) handle(ctx context.Context, rec *queue.Record) (action, error) {
	logger := s.logger.With(logging.Workflow(rec.ID, rec.Brand, string(rec.Stage))...)

	switch rec.Status {
	case queue.StatusRenderComplete, queue.StatusCaptionComplete:
		_, err := s.engine.Advance(ctx, rec.ID)
		if errors.Is(err, engine.ErrNotHandoff) {
			return actionNone, nil
		}
		if err != nil {
			return actionNone, err
		}
		logger.Info("advanced stalled handoff", logging.String(logging.FieldEventType, "sweep_advanced"))
		return actionRecovered, nil
	case queue.StatusRetrying:
		return s.retry(ctx, logger, rec)
	}

	if jobID := rec.JobID(); jobID != "" {
		act, done, err := s.poll(ctx, logger, rec, jobID)
		if done || err != nil {
			return act, err
		}
	}

	st := rec.Stage
	attempts := rec.Attempts.Get(st)
	eligibleAt := rec.StageEnteredAt.
		Add(s.cfg.StageTimeout(string(st))).
		Add(s.backoff.Delay(rec.ID, st, attempts))
	if s.now().Before(eligibleAt) {
		logger.Debug("retry not yet eligible", logging.String("eligible_at", eligibleAt.UTC().Format(time.RFC3339)))
		return actionNone, nil
	}

	settings, _ := s.cfg.StageSettings(string(st))
	if attempts >= settings.RetryBudget {
		reason := fmt.Sprintf("%s: no result after %d attempts", st, attempts+1)
		if _, err := s.engine.Fail(ctx, rec.ID, reason); err != nil {
			if errors.Is(err, engine.ErrTerminal) {
				return actionNone, nil
			}
			return actionNone, err
		}
		logging.WarnWithContext(logger, "stuck workflow failed", "sweep_budget_exhausted",
			logging.Int("attempts", attempts+1),
			logging.String(logging.FieldErrorHint, "inspect the vendor job, then `contentflow reset` to run again"),
			logging.String(logging.FieldImpact, "workflow will not be retried automatically"),
		)
		return actionFailed, nil
	}
	return s.retry(ctx, logger, rec)
}

// poll asks the vendor for a final answer. done reports whether the record
// was settled by the poll.
func (s *Sweeper) poll(ctx context.Context, logger *slog.Logger, rec *queue.Record, jobID string) (action, bool, error) {
	client, err := s.engine.Clients().For(rec.Stage)
	if err != nil {
		return actionNone, false, err
	}
	status, err := client.Poll(ctx, jobID)
	if err != nil {
		logging.WarnWithContext(logger, "vendor poll failed", "sweep_poll_failed",
			logging.JobID(jobID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check vendor availability and credentials"),
		)
		return actionNone, false, nil
	}
	if !status.Done() {
		return actionNone, false, nil
	}

	ev := engine.Event{
		Stage:        rec.Stage,
		WorkflowID:   rec.ID,
		JobID:        jobID,
		Outcome:      engine.OutcomeSuccess,
		ResultURL:    status.ResultURL,
		ErrorMessage: status.Error,
	}
	if status.State == stage.JobFailed {
		ev.Outcome = engine.OutcomeFailure
	}
	outcome, current, err := s.engine.Apply(ctx, ev)
	if errors.Is(err, engine.ErrMissingResult) {
		logging.WarnWithContext(logger, "vendor reported success without output", "sweep_poll_missing_result",
			logging.JobID(jobID),
			logging.String(logging.FieldErrorHint, "the stage is retried as if it never finished"),
		)
		return actionNone, false, nil
	}
	if err != nil {
		return actionNone, false, err
	}
	if outcome != engine.Applied {
		return actionNone, true, nil
	}
	logger.Info("recovered result by polling",
		logging.String(logging.FieldEventType, "sweep_polled"),
		logging.JobID(jobID),
		logging.String("outcome", string(ev.Outcome)),
	)
	if current != nil && current.Status == queue.StatusFailed {
		return actionFailed, true, nil
	}
	return actionRecovered, true, nil
}

func (s *Sweeper) retry(ctx context.Context, logger *slog.Logger, rec *queue.Record) (action, error) {
	settings, _ := s.cfg.StageSettings(string(rec.Stage))
	updated, err := s.engine.Retry(ctx, rec.ID, rec.Stage, settings.RetryBudget)
	switch {
	case errors.Is(err, engine.ErrTerminal), errors.Is(err, engine.ErrWrongStatus), errors.Is(err, engine.ErrBudgetExhausted):
		return actionNone, nil
	case err != nil:
		return actionNone, err
	}
	logger.Info("retried stuck stage",
		logging.String(logging.FieldEventType, "sweep_retried"),
		logging.Int("attempt", updated.Attempts.Get(rec.Stage)),
		logging.JobID(updated.JobID()),
	)
	if updated.Status == queue.StatusFailed {
		return actionFailed, nil
	}
	return actionRecovered, nil
}

func groupByBrand(records []*queue.Record) map[string][]*queue.Record {
	out := make(map[string][]*queue.Record)
	for _, rec := range records {
		out[rec.Brand] = append(out[rec.Brand], rec)
	}
	return out
}

func sortedKeys(m map[string][]*queue.Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
