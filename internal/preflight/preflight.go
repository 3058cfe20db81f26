package preflight

import (
	"context"

	"contentflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	// Fatal marks failures the daemon cannot run with.
	Fatal  bool
	Detail string
}

// RunAll executes every preflight check for the given config.
func RunAll(_ context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		fatal(CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)),
		fatal(CheckDirectoryAccess("Log directory", cfg.Paths.LogDir)),
		CheckAPIToken(cfg.API.Token),
		CheckRecoverySecret(cfg.Recovery.Secret),
	}
	for _, name := range config.StageNames {
		results = append(results, CheckWebhookSecret(cfg, name))
		results = append(results, CheckVendor(cfg, name))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

func fatal(r Result) Result {
	r.Fatal = !r.Passed
	return r
}
