package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"contentflow/internal/api"
	"contentflow/internal/config"
	"contentflow/internal/engine"
	"contentflow/internal/logging"
	"contentflow/internal/queue"
	"contentflow/internal/recovery"
	"contentflow/internal/scheduler"
	"contentflow/internal/webhook"
)

// Dependencies are the components the daemon serves and schedules.
type Dependencies struct {
	Store     *queue.Store
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Sweeper   *recovery.Sweeper
	Ingestor  *webhook.Ingestor
}

// Daemon runs the HTTP API and, unless API-only, the background loops.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	deps      Dependencies
	sessionID string
	apiOnly   bool

	lockPath string
	lock     *flock.Flock
	cron     *cron.Cron
	api      *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithAPIOnly skips the file lock and the background loops.
func WithAPIOnly(apiOnly bool) Option {
	return func(d *Daemon) { d.apiOnly = apiOnly }
}

// WithSessionID sets the identifier reported in status and used as lease owner.
func WithSessionID(id string) Option {
	return func(d *Daemon) {
		if id != "" {
			d.sessionID = id
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Engine == nil || deps.Scheduler == nil || deps.Sweeper == nil || deps.Ingestor == nil {
		return nil, errors.New("daemon requires config, store, engine, scheduler, sweeper and ingestor")
	}
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		deps:      deps,
		sessionID: uuid.NewString(),
		lockPath:  cfg.LockPath(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.lock = flock.New(d.lockPath)
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Handler returns the HTTP handler serving the API.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

// Start begins serving HTTP and, unless API-only, acquires the daemon lock and
// schedules the release and sweep loops.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if !d.apiOnly {
		ok, err := d.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return errors.New("another contentflow daemon instance is already running")
		}
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if !d.apiOnly {
		if err := d.startLoops(); err != nil {
			d.abortStart()
			return err
		}
	}
	if err := d.api.start(d.ctx); err != nil {
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("contentflow daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.Bool("api_only", d.apiOnly),
		logging.String("session_id", d.sessionID),
	)
	return nil
}

func (d *Daemon) abortStart() {
	if d.cron != nil {
		d.cron.Stop()
		d.cron = nil
	}
	if !d.apiOnly {
		_ = d.lock.Unlock()
	}
	d.cancel()
	d.ctx, d.cancel = nil, nil
}

func (d *Daemon) startLoops() error {
	cl := cronLogger{logger: d.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	release := fmt.Sprintf("@every %ds", d.cfg.Scheduler.ReleaseIntervalSeconds)
	if _, err := c.AddFunc(release, d.releaseTick); err != nil {
		return fmt.Errorf("schedule release loop: %w", err)
	}
	sweep := fmt.Sprintf("@every %ds", d.cfg.Recovery.IntervalSeconds)
	if _, err := c.AddFunc(sweep, d.sweepTick); err != nil {
		return fmt.Errorf("schedule sweep loop: %w", err)
	}
	c.Start()
	d.cron = c
	return nil
}

func (d *Daemon) releaseTick() {
	ctx := d.ctx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := d.deps.Scheduler.ReleaseAll(ctx); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(d.logger, "release loop failed", "release_loop_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check workflow database access"),
		)
	}
}

func (d *Daemon) sweepTick() {
	ctx := d.ctx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := d.deps.Sweeper.Sweep(ctx); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(d.logger, "sweep loop failed", "sweep_loop_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the lease backend and workflow database"),
		)
	}
}

// Stop stops background processing, shuts down HTTP and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.cron != nil {
		stopped := d.cron.Stop()
		select {
		case <-stopped.Done():
		case <-time.After(30 * time.Second):
			d.logger.Warn("background jobs still running at shutdown",
				logging.String(logging.FieldEventType, "daemon_stop_timeout"),
				logging.String(logging.FieldErrorHint, "in-flight records are repaired by the next sweep"),
			)
		}
		d.cron = nil
	}
	d.api.stop()
	if !d.apiOnly {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("contentflow daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon. The store is owned by the caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Addr returns the bound API address once started.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns runtime information, per-status counts and health.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		APIOnly:      d.apiOnly,
		PID:          os.Getpid(),
		SessionID:    d.sessionID,
		DatabasePath: d.cfg.DatabasePath(),
		StageHealth:  api.FromHealth(d.deps.Engine.Clients().Health(ctx)),
	}
	if !d.apiOnly {
		status.LockFilePath = d.lockPath
	}
	if stats, err := d.deps.Store.Stats(ctx); err == nil {
		status.Counts = api.MergeStats(stats)
	} else {
		d.logger.Warn("status counts unavailable", logging.Error(err))
	}
	if health, err := d.deps.Store.CheckHealth(ctx); err == nil {
		status.Database = api.FromDatabaseHealth(health)
	} else {
		status.Database = api.DatabaseHealth{Path: d.cfg.DatabasePath(), Error: err.Error()}
	}
	return status
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{logging.Error(err), logging.String(logging.FieldEventType, "cron_error")}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
