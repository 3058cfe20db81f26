// Package config loads, normalizes, and validates contentflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for secrets
// such as CONTENTFLOW_API_TOKEN and CRON_SECRET. The Config type centralizes
// every knob the daemon and CLI need: brand caps, stage timeouts and retry
// budgets, vendor endpoints, and webhook verification settings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
