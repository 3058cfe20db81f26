package config

import (
	"errors"
	"fmt"
	"regexp"
)

var brandPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidBrand reports whether name is an acceptable brand identifier.
func ValidBrand(name string) bool {
	return brandPattern.MatchString(name)
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateRecovery(); err != nil {
		return err
	}
	if err := c.validateVendors(); err != nil {
		return err
	}
	if err := c.validateWebhooks(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAPI() error {
	if c.API.RateLimitRPS < 0 {
		return errors.New("api.rate_limit_rps must be zero or positive")
	}
	if c.API.RateLimitRPS > 0 && c.API.RateLimitBurst <= 0 {
		return errors.New("api.rate_limit_burst must be positive when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.DefaultDailyCap < 0 {
		return errors.New("scheduler.default_daily_cap must be zero (unlimited) or positive")
	}
	if c.Scheduler.DefaultConcurrentCap < 0 {
		return errors.New("scheduler.default_concurrent_cap must be zero (unlimited) or positive")
	}
	if c.Scheduler.ReleaseIntervalSeconds <= 0 {
		return errors.New("scheduler.release_interval_seconds must be positive")
	}
	for _, name := range c.BrandNames() {
		if !ValidBrand(name) {
			return fmt.Errorf("brands.%s: brand names must match %s", name, brandPattern.String())
		}
		brand := c.Brands[name]
		if brand.DailyCap < 0 || brand.ConcurrentCap < 0 {
			return fmt.Errorf("brands.%s: caps must not be negative", name)
		}
	}
	return nil
}

func (c *Config) validateStages() error {
	for _, name := range StageNames {
		stage, _ := c.StageSettings(name)
		if stage.TimeoutSeconds <= 0 {
			return fmt.Errorf("stages.%s.timeout_seconds must be positive", name)
		}
		if stage.RetryBudget < 0 {
			return fmt.Errorf("stages.%s.retry_budget must be zero or positive", name)
		}
	}
	return nil
}

func (c *Config) validateRecovery() error {
	if c.Recovery.IntervalSeconds <= 0 {
		return errors.New("recovery.interval_seconds must be positive")
	}
	if c.Recovery.LeaseTTLSeconds <= 0 {
		return errors.New("recovery.lease_ttl_seconds must be positive")
	}
	if c.Recovery.HandoffTimeoutSeconds <= 0 {
		return errors.New("recovery.handoff_timeout_seconds must be positive")
	}
	if c.Recovery.BackoffBaseSeconds < 0 || c.Recovery.BackoffMaxSeconds < 0 {
		return errors.New("recovery backoff settings must not be negative")
	}
	if c.Recovery.BackoffMaxSeconds > 0 && c.Recovery.BackoffMaxSeconds < c.Recovery.BackoffBaseSeconds {
		return errors.New("recovery.backoff_max_seconds must be >= recovery.backoff_base_seconds")
	}
	switch c.Recovery.LockBackend {
	case "store", "redis":
	default:
		return fmt.Errorf("recovery.lock_backend: unsupported value %q (want store or redis)", c.Recovery.LockBackend)
	}
	return nil
}

func (c *Config) validateVendors() error {
	for _, name := range StageNames {
		vendor, _ := c.VendorSettings(name)
		switch vendor.Kind {
		case "fake":
		case "http":
			if vendor.BaseURL == "" {
				return fmt.Errorf("vendors.%s.base_url is required when kind is http (or set kind = \"fake\")", name)
			}
		default:
			return fmt.Errorf("vendors.%s.kind: unsupported value %q", name, vendor.Kind)
		}
	}
	return nil
}

func (c *Config) validateWebhooks() error {
	for _, name := range StageNames {
		source, _ := c.WebhookSettings(name)
		switch source.Format {
		case "generic", "heygen", "submagic":
		default:
			return fmt.Errorf("webhooks.%s.format: unsupported value %q", name, source.Format)
		}
		switch source.Signature {
		case SignatureHMAC, SignatureSecret:
		default:
			return fmt.Errorf("webhooks.%s.signature: unsupported value %q (use %q or %q)", name, source.Signature, SignatureHMAC, SignatureSecret)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
