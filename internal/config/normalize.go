package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeBrands()
	c.normalizeRecovery()
	c.normalizeVendors()
	c.normalizeWebhooks()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("CONTENTFLOW_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeBrands() {
	if c.Brands == nil {
		c.Brands = map[string]Brand{}
		return
	}
	normalized := make(map[string]Brand, len(c.Brands))
	for name, brand := range c.Brands {
		normalized[strings.ToLower(strings.TrimSpace(name))] = brand
	}
	c.Brands = normalized
}

func (c *Config) normalizeRecovery() {
	c.Recovery.Secret = strings.TrimSpace(c.Recovery.Secret)
	if c.Recovery.Secret == "" {
		if value, ok := os.LookupEnv("CRON_SECRET"); ok {
			c.Recovery.Secret = strings.TrimSpace(value)
		}
	}
	c.Recovery.LockBackend = strings.ToLower(strings.TrimSpace(c.Recovery.LockBackend))
	if c.Recovery.LockBackend == "" {
		c.Recovery.LockBackend = defaultLockBackend
	}
	if c.Recovery.Parallelism <= 0 {
		c.Recovery.Parallelism = defaultSweepParallelism
	}
	if value, ok := os.LookupEnv("CONTENTFLOW_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.Redis.Addr = strings.TrimSpace(value)
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
}

func (c *Config) normalizeVendors() {
	normalizeVendor(&c.Vendors.Render, StageRender)
	normalizeVendor(&c.Vendors.Caption, StageCaption)
	normalizeVendor(&c.Vendors.Distribute, StageDistribute)
}

func normalizeVendor(v *Vendor, stage string) {
	v.Kind = strings.ToLower(strings.TrimSpace(v.Kind))
	if v.Kind == "" {
		v.Kind = defaultVendorKind
	}
	v.BaseURL = strings.TrimRight(strings.TrimSpace(v.BaseURL), "/")
	v.APIKey = strings.TrimSpace(v.APIKey)
	if v.APIKey == "" {
		if value, ok := os.LookupEnv(envName(stage, "API_KEY")); ok {
			v.APIKey = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(v.StartPath) == "" {
		v.StartPath = defaultVendorStartPath
	}
	if strings.TrimSpace(v.StatusPath) == "" {
		v.StatusPath = defaultVendorStatusPath
	}
	v.CancelPath = strings.TrimSpace(v.CancelPath)
	if v.TimeoutSeconds <= 0 {
		v.TimeoutSeconds = defaultVendorTimeoutSeconds
	}
}

func (c *Config) normalizeWebhooks() {
	normalizeWebhookSource(&c.Webhooks.Render, StageRender)
	normalizeWebhookSource(&c.Webhooks.Caption, StageCaption)
	normalizeWebhookSource(&c.Webhooks.Distribute, StageDistribute)
}

func normalizeWebhookSource(w *WebhookSource, stage string) {
	w.Secret = strings.TrimSpace(w.Secret)
	if w.Secret == "" {
		if value, ok := os.LookupEnv(envName(stage, "WEBHOOK_SECRET")); ok {
			w.Secret = strings.TrimSpace(value)
		}
	}
	w.SignatureHeader = strings.TrimSpace(w.SignatureHeader)
	if w.SignatureHeader == "" {
		w.SignatureHeader = defaultSignatureHeader
	}
	w.Signature = strings.ToLower(strings.TrimSpace(w.Signature))
	if w.Signature == "" {
		w.Signature = defaultSignatureMode
	}
	w.Format = strings.ToLower(strings.TrimSpace(w.Format))
	if w.Format == "" {
		w.Format = defaultWebhookFormat
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

func envName(stage, suffix string) string {
	return "CONTENTFLOW_" + strings.ToUpper(stage) + "_" + suffix
}
