package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"contentflow/internal/api"
)

// releaseOutput is the --json form of `release`.
type releaseOutput struct {
	Brand    string `json:"brand,omitempty"`
	Released int    `json:"released"`
}

// resolveOutput is the --json form of `webhooks resolve`.
type resolveOutput struct {
	ID       int64 `json:"id"`
	Resolved bool  `json:"resolved"`
}

// statsOutput is the --json form of `stats`: workflow counts plus the
// database and per-stage vendor readiness.
type statsOutput struct {
	api.StatsResponse
	Database api.DatabaseHealth `json:"database"`
	Vendors  []api.StageHealth  `json:"vendors"`
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
