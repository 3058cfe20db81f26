package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"contentflow/internal/config"
	"contentflow/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckWebhookSecret(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if r := CheckWebhookSecret(cfg, "render"); !r.Passed {
		t.Fatalf("expected pass with secret, got %q", r.Detail)
	}

	cfg.Webhooks.Caption.Secret = ""
	if r := CheckWebhookSecret(cfg, "caption"); r.Passed || !strings.Contains(r.Detail, "rejected") {
		t.Fatalf("expected failure without secret, got %+v", r)
	}

	cfg.Webhooks.Render.Signature = config.SignatureSecret
	if r := CheckWebhookSecret(cfg, "render"); !r.Passed || !strings.HasPrefix(r.Detail, "shared secret") {
		t.Fatalf("expected secret mode to be reported, got %+v", r)
	}

	cfg.Webhooks.InsecureSkipVerify = true
	if r := CheckWebhookSecret(cfg, "render"); r.Passed {
		t.Fatal("insecure mode should be reported")
	}
}

func TestCheckVendor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if r := CheckVendor(cfg, "render"); !r.Passed {
		t.Fatalf("fake vendor should pass, got %q", r.Detail)
	}

	cfg.Vendors.Caption.Kind = "http"
	cfg.Vendors.Caption.BaseURL = ""
	if r := CheckVendor(cfg, "caption"); r.Passed {
		t.Fatal("expected failure without base url")
	}
	cfg.Vendors.Caption.BaseURL = "not a url"
	if r := CheckVendor(cfg, "caption"); r.Passed {
		t.Fatal("expected failure for invalid base url")
	}
	cfg.Vendors.Caption.BaseURL = "https://captions.example.test/v1"
	cfg.Vendors.Caption.APIKey = "k"
	if r := CheckVendor(cfg, "caption"); !r.Passed || r.Detail != "captions.example.test" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestRunAllMarksDirectoryFailuresFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if failed := Failed(RunAll(context.Background(), cfg)); len(failed) != 0 {
		t.Fatalf("expected every check to pass, got %+v", failed)
	}

	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "missing")
	cfg.API.Token = ""
	failed := Failed(RunAll(context.Background(), cfg))
	if len(failed) != 2 {
		t.Fatalf("expected two failures, got %+v", failed)
	}
	for _, r := range failed {
		switch r.Name {
		case "Log directory":
			if !r.Fatal {
				t.Fatal("directory failure should be fatal")
			}
		case "API token":
			if r.Fatal {
				t.Fatal("missing token should only warn")
			}
		default:
			t.Fatalf("unexpected failure %+v", r)
		}
	}
}
