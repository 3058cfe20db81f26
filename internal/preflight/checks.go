package preflight

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"contentflow/internal/config"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckAPIToken warns when the HTTP API is open to anyone who can reach it.
func CheckAPIToken(token string) Result {
	const name = "API token"
	if strings.TrimSpace(token) == "" {
		return Result{Name: name, Detail: "not set; workflow routes accept unauthenticated requests"}
	}
	return Result{Name: name, Passed: true, Detail: "set"}
}

// CheckRecoverySecret reports whether the external sweep trigger is usable.
func CheckRecoverySecret(secret string) Result {
	const name = "Recovery secret"
	if strings.TrimSpace(secret) == "" {
		return Result{Name: name, Detail: "not set; /api/recovery/sweep answers 503"}
	}
	return Result{Name: name, Passed: true, Detail: "set"}
}

// CheckWebhookSecret reports whether events for a stage can be authenticated.
func CheckWebhookSecret(cfg *config.Config, stage string) Result {
	name := stage + " webhooks"
	if cfg.Webhooks.InsecureSkipVerify {
		return Result{Name: name, Detail: "signature verification disabled (webhooks.insecure_skip_verify)"}
	}
	src, _ := cfg.WebhookSettings(stage)
	if strings.TrimSpace(src.Secret) == "" {
		return Result{Name: name, Detail: "no secret; every event will be rejected"}
	}
	if src.Signature == config.SignatureSecret {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("shared secret echoed in %s (%s)", src.SignatureHeader, formatOrGeneric(src.Format))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("hmac via %s (%s)", src.SignatureHeader, formatOrGeneric(src.Format))}
}

// CheckVendor verifies the vendor connection settings for a stage.
func CheckVendor(cfg *config.Config, stage string) Result {
	name := stage + " vendor"
	vendor, _ := cfg.VendorSettings(stage)
	if vendor.Kind == "fake" {
		return Result{Name: name, Passed: true, Detail: "scripted fake client"}
	}
	base := strings.TrimSpace(vendor.BaseURL)
	if base == "" {
		return Result{Name: name, Detail: "missing base_url"}
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("invalid base_url %q", base)}
	}
	if strings.TrimSpace(vendor.APIKey) == "" {
		return Result{Name: name, Passed: true, Detail: parsed.Host + " (no api key)"}
	}
	return Result{Name: name, Passed: true, Detail: parsed.Host}
}

func formatOrGeneric(format string) string {
	if strings.TrimSpace(format) == "" {
		return "generic"
	}
	return format
}
