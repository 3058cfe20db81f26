// Package recovery runs the failsafe sweep that repairs workflows the webhook
// path failed to advance.
//
// A sweep holds the "failsafe-sweep" lease for its duration, so overlapping
// invocations from cron, the CLI or another process do nothing. Stuck records
// are polled at their vendor first; only when the vendor has no final answer
// is the stage retried, subject to the stage's retry budget and an
// exponential backoff with deterministic jitter.
package recovery
