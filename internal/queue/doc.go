// Package queue persists workflow records in SQLite and owns the invariants of
// their lifecycle.
//
// The Store manages database connections, schema initialization, and
// compare-and-swap updates keyed by a per-record lock token. Every write is
// checked against the status graph in models.go, stamps updated_at, and resets
// stage_entered_at when the status changes. Alongside the records the store
// keeps the external job index used for webhook idempotency, named leases for
// the recovery sweep, and a dead-letter log of webhook deliveries that could
// not be processed.
//
// Schema changes bump the version in schema.go; existing databases with an
// older version are refused rather than migrated.
package queue
