package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"contentflow/internal/config"
	"contentflow/internal/daemon"
	"contentflow/internal/logging"
	"contentflow/internal/notifications"
	"contentflow/internal/preflight"
	"contentflow/internal/stage"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	APIOnly     bool
}

// Run starts the contentflow daemon and blocks until the context is cancelled
// or the process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	sessionID := uuid.NewString()
	logConfigSnapshot(logger, cfg, opts)
	if err := runPreflight(signalCtx, logger, cfg); err != nil {
		return err
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "contentflow.pid")
	if !opts.APIOnly {
		if err := writePIDFile(pidPath); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer os.Remove(pidPath)
	}

	components, err := Build(signalCtx, cfg, logger, sessionID)
	if err != nil {
		logger.Error("wire components", logging.Error(err))
		return err
	}
	defer components.Close()
	for _, h := range stage.Blocked(components.Engine.Clients().Health(signalCtx)) {
		logging.WarnWithContext(logger, "stage vendor unavailable", "stage_vendor_unavailable",
			logging.Stage(string(h.Stage)),
			logging.String("vendor", h.Vendor),
			logging.String("detail", h.Detail),
			logging.String(logging.FieldImpact, "jobs for this stage fail to start until the vendor is configured"),
		)
	}

	notifier := notifications.NewService(cfg)
	go func() {
		if err := notifications.Listen(signalCtx, components.Bus, notifier, logger); err != nil {
			logging.WarnWithContext(logger, "notification listener stopped", "notification_listener_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "terminal outcomes will not be pushed"),
			)
		}
	}()

	d, err := daemon.New(cfg, daemon.Dependencies{
		Store:     components.Store,
		Engine:    components.Engine,
		Scheduler: components.Scheduler,
		Sweeper:   components.Sweeper,
		Ingestor:  components.Ingestor,
	}, logger, daemon.WithAPIOnly(opts.APIOnly), daemon.WithSessionID(sessionID))
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check api.bind and that no other daemon holds the lock"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("contentflow daemon shutting down")
	return nil
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	logPath := filepath.Join(cfg.Paths.LogDir, "contentflow.log")
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	return logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config, opts Options) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.Bool("api_only", opts.APIOnly),
		logging.String("api_bind", cfg.API.Bind),
		logging.Bool("api_token_present", strings.TrimSpace(cfg.API.Token) != ""),
		logging.Bool("cron_secret_present", strings.TrimSpace(cfg.Recovery.Secret) != ""),
		logging.String("lock_backend", cfg.Recovery.LockBackend),
		logging.Bool("insecure_webhooks", cfg.Webhooks.InsecureSkipVerify),
		logging.Bool("notifications_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	}
	for _, name := range config.StageNames {
		vendor, _ := cfg.VendorSettings(name)
		hook, _ := cfg.WebhookSettings(name)
		attrs = append(attrs, logging.Group(name,
			logging.String("vendor_kind", vendor.Kind),
			logging.Bool("vendor_configured", vendor.Kind == "fake" || strings.TrimSpace(vendor.BaseURL) != ""),
			logging.Bool("webhook_secret_present", strings.TrimSpace(hook.Secret) != ""),
		))
	}
	logger.Info("configuration snapshot", logging.Args(attrs...)...)
}

func runPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	var fatal []string
	for _, r := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the configuration and restart"),
		)
		if r.Fatal {
			fatal = append(fatal, r.Name)
		}
	}
	if len(fatal) > 0 {
		return fmt.Errorf("preflight failed: %s", strings.Join(fatal, ", "))
	}
	return nil
}
