package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"contentflow/internal/config"
)

const fakeVendors = `
[vendors.render]
kind = "fake"

[vendors.caption]
kind = "fake"

[vendors.distribute]
kind = "fake"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadWithoutFileRequiresVendorEndpoints(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, _, _, err := config.Load("")
	if err == nil {
		t.Fatal("expected validation error for missing vendor base url")
	}
	if !strings.Contains(err.Error(), "vendors.render.base_url") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadCustomPathAppliesDefaultsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := writeConfig(t, fakeVendors+`
[paths]
data_dir = "~/cf-data"
`)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "cf-data") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.API.Bind != "127.0.0.1:7590" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.Stages.Render.RetryBudget != 3 {
		t.Fatalf("expected default retry budget 3, got %d", cfg.Stages.Render.RetryBudget)
	}
	if got := cfg.StageTimeout(config.StageCaption); got.Minutes() != 20 {
		t.Fatalf("unexpected caption timeout: %s", got)
	}
	if cfg.Webhooks.Render.SignatureHeader != "X-Signature" {
		t.Fatalf("unexpected signature header: %q", cfg.Webhooks.Render.SignatureHeader)
	}
	if cfg.Webhooks.Caption.Signature != config.SignatureHMAC {
		t.Fatalf("expected hmac signatures by default, got %q", cfg.Webhooks.Caption.Signature)
	}
	if cfg.Recovery.LockBackend != "store" {
		t.Fatalf("unexpected lock backend: %q", cfg.Recovery.LockBackend)
	}
	if cfg.DatabasePath() != filepath.Join(tempHome, "cf-data", "contentflow.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
}

func TestEnvFallbacksFillSecrets(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CONTENTFLOW_API_TOKEN", "env-token")
	t.Setenv("CRON_SECRET", "cron-secret")
	t.Setenv("CONTENTFLOW_RENDER_WEBHOOK_SECRET", "render-secret")
	t.Setenv("CONTENTFLOW_CAPTION_API_KEY", "caption-key")

	path := writeConfig(t, fakeVendors+`
[webhooks.caption]
secret = "file-secret"
`)

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.API.Token != "env-token" {
		t.Fatalf("expected api token from env, got %q", cfg.API.Token)
	}
	if cfg.Recovery.Secret != "cron-secret" {
		t.Fatalf("expected cron secret from env, got %q", cfg.Recovery.Secret)
	}
	if cfg.Webhooks.Render.Secret != "render-secret" {
		t.Fatalf("expected render webhook secret from env, got %q", cfg.Webhooks.Render.Secret)
	}
	if cfg.Webhooks.Caption.Secret != "file-secret" {
		t.Fatalf("expected file secret to win over env, got %q", cfg.Webhooks.Caption.Secret)
	}
	if cfg.Vendors.Caption.APIKey != "caption-key" {
		t.Fatalf("expected caption api key from env, got %q", cfg.Vendors.Caption.APIKey)
	}
}

func TestBrandLimitsUseOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, fakeVendors+`
[scheduler]
default_daily_cap = 40
default_concurrent_cap = 4

[brands.Demo]
daily_cap = 2
`)

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	daily, concurrent := cfg.BrandLimits("demo")
	if daily != 2 || concurrent != 4 {
		t.Fatalf("unexpected demo limits: daily=%d concurrent=%d", daily, concurrent)
	}
	daily, concurrent = cfg.BrandLimits("other")
	if daily != 40 || concurrent != 4 {
		t.Fatalf("unexpected default limits: daily=%d concurrent=%d", daily, concurrent)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.DataDir, "contentflow") {
		t.Fatalf("expected data dir to contain contentflow, got %q", cfg.Paths.DataDir)
	}
	if cfg.Webhooks.Render.Format != "heygen" {
		t.Fatalf("expected heygen render format in sample, got %q", cfg.Webhooks.Render.Format)
	}

	t.Setenv("HOME", t.TempDir())
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	valid := func() config.Config {
		cfg := config.Default()
		cfg.Vendors.Render.Kind = "fake"
		cfg.Vendors.Caption.Kind = "fake"
		cfg.Vendors.Distribute.Kind = "fake"
		return cfg
	}

	base := valid()
	if err := base.Validate(); err != nil {
		t.Fatalf("expected defaults with fake vendors to validate: %v", err)
	}

	cases := map[string]func(*config.Config){
		"zero stage timeout":   func(c *config.Config) { c.Stages.Caption.TimeoutSeconds = 0 },
		"negative budget":      func(c *config.Config) { c.Stages.Render.RetryBudget = -1 },
		"negative daily cap":   func(c *config.Config) { c.Scheduler.DefaultDailyCap = -1 },
		"unknown lock backend": func(c *config.Config) { c.Recovery.LockBackend = "etcd" },
		"unknown vendor kind":  func(c *config.Config) { c.Vendors.Distribute.Kind = "ftp" },
		"unknown format":       func(c *config.Config) { c.Webhooks.Caption.Format = "xml" },
		"unknown signature":    func(c *config.Config) { c.Webhooks.Render.Signature = "plain" },
		"bad brand name":       func(c *config.Config) { c.Brands = map[string]config.Brand{"Bad Brand": {}} },
		"backoff inverted": func(c *config.Config) {
			c.Recovery.BackoffBaseSeconds = 600
			c.Recovery.BackoffMaxSeconds = 60
		},
		"burst without rps": func(c *config.Config) {
			c.API.RateLimitRPS = 5
			c.API.RateLimitBurst = 0
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
