package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"contentflow/internal/config"
	"contentflow/internal/engine"
	"contentflow/internal/logging"
	"contentflow/internal/queue"
	"contentflow/internal/services"
	"contentflow/internal/telemetry"
)

// maxContentRef bounds the stored content reference.
const maxContentRef = 8 << 10

// Limits resolves the caps for a brand.
type Limits interface {
	BrandLimits(brand string) (daily, concurrent int)
}

// Scheduler admits new workflows and releases queued ones.
type Scheduler struct {
	limits  Limits
	store   *queue.Store
	engine  *engine.Engine
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithMetrics counts admissions on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides the time source used for the daily window.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a scheduler. Limits are read from cfg on every call.
func New(cfg Limits, eng *engine.Engine, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		limits: cfg,
		store:  eng.Store(),
		engine: eng,
		logger: logging.NewComponentLogger(logger, "scheduler"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Admit creates a queued record for contentRef unless the brand already used
// its daily cap, in which case the error wraps queue.ErrCapacityExceeded and
// no record is written.
func (s *Scheduler) Admit(ctx context.Context, brand, contentRef string) (*queue.Record, error) {
	brand = strings.TrimSpace(brand)
	contentRef = strings.TrimSpace(contentRef)
	if !config.ValidBrand(brand) {
		return nil, services.Wrap(services.ErrValidation, "", "admit", "brand must match [a-z0-9_-]{1,64}", nil)
	}
	if contentRef == "" {
		return nil, services.Wrap(services.ErrValidation, "", "admit", "content reference is required", nil)
	}
	if len(contentRef) > maxContentRef {
		return nil, services.Wrap(services.ErrValidation, "", "admit", "content reference too large", nil)
	}

	daily, _ := s.limits.BrandLimits(brand)
	rec := &queue.Record{Brand: brand, ContentRef: contentRef}
	id, err := s.store.CreateWithinCap(ctx, rec, s.dayStart(), daily)
	if errors.Is(err, queue.ErrCapacityExceeded) {
		s.logger.Info("admission refused",
			logging.String(logging.FieldEventType, "admission_capacity_exceeded"),
			logging.String(logging.FieldBrand, brand),
			logging.Int("daily_cap", daily),
		)
		s.metrics.Admission(ctx, brand, "capacity_exceeded")
		return nil, err
	}
	if err != nil {
		s.metrics.Admission(ctx, brand, "error")
		return nil, err
	}
	s.metrics.Admission(ctx, brand, "admitted")
	s.logger.Info("workflow admitted",
		logging.String(logging.FieldEventType, "workflow_admitted"),
		logging.WorkflowID(id),
		logging.String(logging.FieldBrand, brand),
	)
	return s.store.Get(ctx, id)
}

// ReleaseNextQueued promotes the brand's oldest queued record when the brand
// is below its concurrency cap. It returns how many records were promoted.
func (s *Scheduler) ReleaseNextQueued(ctx context.Context, brand string) (int, error) {
	_, concurrent := s.limits.BrandLimits(brand)
	rec, err := s.engine.PromoteNext(ctx, brand, concurrent)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, nil
	}
	return 1, nil
}

// ReleaseAll releases queued work for every brand until nothing more fits.
// A brand's error is logged and does not stop the others.
func (s *Scheduler) ReleaseAll(ctx context.Context) (int, error) {
	brands, err := s.store.QueuedBrands(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, brand := range brands {
		for {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			n, err := s.ReleaseNextQueued(ctx, brand)
			if err != nil {
				logging.WarnWithContext(s.logger, "release failed", "release_failed",
					logging.String(logging.FieldBrand, brand),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "the next release tick retries this brand"),
				)
				break
			}
			if n == 0 {
				break
			}
			total += n
		}
	}
	if total > 0 {
		s.logger.Debug("released queued workflows", logging.Int("released", total))
	}
	return total, nil
}

func (s *Scheduler) dayStart() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
