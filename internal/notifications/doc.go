// Package notifications delivers workflow milestones via ntfy.
//
// The ntfy implementation posts to the topic configured in config.toml and
// degrades to a no-op when notifications are disabled. Listen bridges the
// transition bus to a Service so the engine never blocks on notification
// delivery.
package notifications
