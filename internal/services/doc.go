// Package services defines shared utilities consumed by the orchestration
// engine and the external stage integrations.
//
// Key responsibilities:
//   - Context helpers that stamp workflow IDs, brands, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so vendor failures can be
//     classified as transient (retry later) or permanent (fail the workflow).
//
// Vendor adapters live in sub-packages: vendorhttp speaks the JSON job API and
// fake provides scripted clients for local runs and tests.
package services
