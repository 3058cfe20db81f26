// Package telemetry exposes OpenTelemetry counters for transitions, webhook
// outcomes, admissions and recovery sweeps. Export is left to whatever meter
// provider the process installs.
package telemetry
