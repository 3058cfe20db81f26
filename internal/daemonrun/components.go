package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"contentflow/internal/config"
	"contentflow/internal/engine"
	"contentflow/internal/events"
	"contentflow/internal/lease"
	"contentflow/internal/logging"
	"contentflow/internal/queue"
	"contentflow/internal/recovery"
	"contentflow/internal/scheduler"
	"contentflow/internal/services/fake"
	"contentflow/internal/services/vendorhttp"
	"contentflow/internal/stage"
	"contentflow/internal/telemetry"
	"contentflow/internal/webhook"
)

const meterName = "contentflow"

// Components are the wired orchestration pieces shared by the daemon and the
// operator CLI.
type Components struct {
	Store     *queue.Store
	Bus       *events.Bus
	Metrics   *telemetry.Metrics
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Sweeper   *recovery.Sweeper
	Ingestor  *webhook.Ingestor

	closers []func() error
}

// Build opens the store and wires every component. owner identifies this
// process as the sweep lease holder.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, owner string) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	clients, err := StageClients(cfg)
	if err != nil {
		return nil, err
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open workflow store: %w", err)
	}
	c := &Components{Store: store}
	c.closers = append(c.closers, store.Close)

	metrics, err := telemetry.New(otel.Meter(meterName))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	c.Metrics = metrics

	c.Bus = events.NewBus(logger)
	c.closers = append(c.closers, c.Bus.Close)

	c.Engine = engine.New(store, clients, logger,
		engine.WithPublisher(c.Bus),
		engine.WithMetrics(metrics),
	)
	c.Scheduler = scheduler.New(cfg, c.Engine, logger, scheduler.WithMetrics(metrics))

	sweepOpts := []recovery.Option{recovery.WithMetrics(metrics)}
	if owner != "" {
		sweepOpts = append(sweepOpts, recovery.WithOwner(owner))
	}
	if cfg.Recovery.LockBackend == "redis" {
		locker := lease.NewRedisLocker(cfg.Redis)
		c.closers = append(c.closers, locker.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr := locker.Ping(pingCtx)
		cancel()
		if pingErr != nil {
			c.Close()
			return nil, fmt.Errorf("connect redis lease backend %s: %w", cfg.Redis.Addr, pingErr)
		}
		sweepOpts = append(sweepOpts, recovery.WithLocker(locker))
	}
	c.Sweeper = recovery.New(cfg, c.Engine, logger, sweepOpts...)
	c.Ingestor = webhook.New(cfg.Webhooks, c.Engine, logger, webhook.WithMetrics(metrics))
	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Components) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// StageClients builds the client for each stage from vendors.<stage>.kind.
func StageClients(cfg *config.Config) (stage.Set, error) {
	build := func(name, prefix string) (stage.Client, error) {
		vendor, ok := cfg.VendorSettings(name)
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", name)
		}
		switch vendor.Kind {
		case "fake":
			return fake.New(name, prefix), nil
		case "", "http":
			return vendorhttp.New(name, vendor), nil
		}
		return nil, fmt.Errorf("vendors.%s.kind: unsupported value %q", name, vendor.Kind)
	}

	var set stage.Set
	var err error
	if set.Renderer, err = build(config.StageRender, "R"); err != nil {
		return stage.Set{}, err
	}
	if set.Captioner, err = build(config.StageCaption, "C"); err != nil {
		return stage.Set{}, err
	}
	if set.Distributor, err = build(config.StageDistribute, "D"); err != nil {
		return stage.Set{}, err
	}
	return set, nil
}
