package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Stage names used as keys for per-stage sections.
const (
	StageRender     = "render"
	StageCaption    = "caption"
	StageDistribute = "distribute"
)

// Webhook signature modes.
const (
	SignatureHMAC   = "hmac"
	SignatureSecret = "secret"
)

// StageNames lists the stage keys in pipeline order.
var StageNames = []string{StageRender, StageCaption, StageDistribute}

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// API contains the HTTP listener configuration.
type API struct {
	Bind           string  `toml:"bind"`
	Token          string  `toml:"token"`
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

// Scheduler contains default admission and release limits.
type Scheduler struct {
	DefaultDailyCap        int `toml:"default_daily_cap"`
	DefaultConcurrentCap   int `toml:"default_concurrent_cap"`
	ReleaseIntervalSeconds int `toml:"release_interval_seconds"`
}

// Brand overrides scheduler limits for one brand. Zero keeps the default.
type Brand struct {
	DailyCap      int `toml:"daily_cap"`
	ConcurrentCap int `toml:"concurrent_cap"`
}

// Stage contains stuck-detection and retry settings for one stage.
type Stage struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
	RetryBudget    int `toml:"retry_budget"`
}

// Stages groups the per-stage settings.
type Stages struct {
	Render     Stage `toml:"render"`
	Caption    Stage `toml:"caption"`
	Distribute Stage `toml:"distribute"`
}

// Recovery contains the failsafe sweep configuration.
type Recovery struct {
	IntervalSeconds       int    `toml:"interval_seconds"`
	LeaseTTLSeconds       int    `toml:"lease_ttl_seconds"`
	HandoffTimeoutSeconds int    `toml:"handoff_timeout_seconds"`
	BackoffBaseSeconds    int    `toml:"backoff_base_seconds"`
	BackoffMaxSeconds     int    `toml:"backoff_max_seconds"`
	Parallelism           int    `toml:"parallelism"`
	Secret                string `toml:"secret"`
	LockBackend           string `toml:"lock_backend"`
}

// Redis contains connection settings for the optional Redis lease backend.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Vendor contains connection settings for one external stage service.
type Vendor struct {
	Kind           string `toml:"kind"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	StartPath      string `toml:"start_path"`
	StatusPath     string `toml:"status_path"`
	CancelPath     string `toml:"cancel_path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Vendors groups the per-stage vendor settings.
type Vendors struct {
	Render     Vendor `toml:"render"`
	Caption    Vendor `toml:"caption"`
	Distribute Vendor `toml:"distribute"`
}

// WebhookSource contains verification settings for one stage's webhooks.
type WebhookSource struct {
	Secret          string `toml:"secret"`
	SignatureHeader string `toml:"signature_header"`
	// Signature selects what the header carries: "hmac" (hex HMAC-SHA256 of
	// the body) or "secret" (the shared secret itself).
	Signature string `toml:"signature"`
	Format    string `toml:"format"`
}

// Webhooks contains inbound webhook settings.
type Webhooks struct {
	InsecureSkipVerify bool          `toml:"insecure_skip_verify"`
	Render             WebhookSource `toml:"render"`
	Caption            WebhookSource `toml:"caption"`
	Distribute         WebhookSource `toml:"distribute"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Failed         bool   `toml:"failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for contentflow.
//
// Configuration sections by subsystem:
//   - Paths: database and log directories
//   - API: HTTP listener, bearer token and rate limits
//   - Scheduler / Brands: daily and concurrent caps
//   - Stages: per-stage timeouts and retry budgets
//   - Recovery: failsafe sweep cadence, lease and backoff
//   - Redis: optional lease backend
//   - Vendors: external stage service endpoints
//   - Webhooks: inbound signature verification
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths            `toml:"paths"`
	API           API              `toml:"api"`
	Scheduler     Scheduler        `toml:"scheduler"`
	Brands        map[string]Brand `toml:"brands"`
	Stages        Stages           `toml:"stages"`
	Recovery      Recovery         `toml:"recovery"`
	Redis         Redis            `toml:"redis"`
	Vendors       Vendors          `toml:"vendors"`
	Webhooks      Webhooks         `toml:"webhooks"`
	Notifications Notifications    `toml:"notifications"`
	Logging       Logging          `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/contentflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("contentflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the workflow store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "contentflow.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "contentflow.lock")
}

// StageSettings returns the timeout and retry budget for a stage name.
func (c *Config) StageSettings(name string) (Stage, bool) {
	switch name {
	case StageRender:
		return c.Stages.Render, true
	case StageCaption:
		return c.Stages.Caption, true
	case StageDistribute:
		return c.Stages.Distribute, true
	}
	return Stage{}, false
}

// StageTimeout returns the stuck threshold for a stage.
func (c *Config) StageTimeout(name string) time.Duration {
	s, _ := c.StageSettings(name)
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// VendorSettings returns the vendor configuration for a stage name.
func (c *Config) VendorSettings(name string) (Vendor, bool) {
	switch name {
	case StageRender:
		return c.Vendors.Render, true
	case StageCaption:
		return c.Vendors.Caption, true
	case StageDistribute:
		return c.Vendors.Distribute, true
	}
	return Vendor{}, false
}

// WebhookSettings returns the webhook verification settings for a stage name.
func (c *Config) WebhookSettings(name string) (WebhookSource, bool) {
	switch name {
	case StageRender:
		return c.Webhooks.Render, true
	case StageCaption:
		return c.Webhooks.Caption, true
	case StageDistribute:
		return c.Webhooks.Distribute, true
	}
	return WebhookSource{}, false
}

// BrandLimits returns the effective daily and concurrent caps for a brand.
func (c *Config) BrandLimits(brand string) (daily, concurrent int) {
	daily = c.Scheduler.DefaultDailyCap
	concurrent = c.Scheduler.DefaultConcurrentCap
	if override, ok := c.Brands[brand]; ok {
		if override.DailyCap > 0 {
			daily = override.DailyCap
		}
		if override.ConcurrentCap > 0 {
			concurrent = override.ConcurrentCap
		}
	}
	return daily, concurrent
}

// BrandNames returns the brands with explicit overrides, sorted.
func (c *Config) BrandNames() []string {
	names := make([]string, 0, len(c.Brands))
	for name := range c.Brands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
