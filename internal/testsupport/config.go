package testsupport

import (
	"path/filepath"
	"testing"

	"contentflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Vendors default to the scripted fake clients and webhook verification uses
// fixed test secrets.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.API.Token = "test-token"
	cfgVal.Recovery.Secret = "test-cron-secret"
	cfgVal.Vendors.Render.Kind = "fake"
	cfgVal.Vendors.Caption.Kind = "fake"
	cfgVal.Vendors.Distribute.Kind = "fake"
	cfgVal.Webhooks.Render.Secret = "render-secret"
	cfgVal.Webhooks.Caption.Secret = "caption-secret"
	cfgVal.Webhooks.Distribute.Secret = "distribute-secret"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithBrandLimits overrides the caps for one brand.
func WithBrandLimits(brand string, daily, concurrent int) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Brands == nil {
			b.cfg.Brands = map[string]config.Brand{}
		}
		b.cfg.Brands[brand] = config.Brand{DailyCap: daily, ConcurrentCap: concurrent}
	}
}

// WithRetryBudget sets the same retry budget on every stage.
func WithRetryBudget(budget int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Stages.Render.RetryBudget = budget
		b.cfg.Stages.Caption.RetryBudget = budget
		b.cfg.Stages.Distribute.RetryBudget = budget
	}
}

// WithInsecureWebhooks disables webhook signature checks.
func WithInsecureWebhooks() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Webhooks.InsecureSkipVerify = true
	}
}

// WithoutBackoff makes stuck records eligible for retry as soon as they time out.
func WithoutBackoff() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Recovery.BackoffBaseSeconds = 0
		b.cfg.Recovery.BackoffMaxSeconds = 0
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
