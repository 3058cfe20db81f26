// Package daemon coordinates the long-running contentflow process.
//
// It wires the workflow store, engine, scheduler, recovery sweeper and webhook
// ingestor behind one HTTP API and drives the periodic release and sweep loops
// with cron. A flock on the data directory keeps a single process running the
// loops; API-only processes skip the lock and the loops and only serve HTTP.
//
// Keep orchestration logic in the engine: the daemon focuses on startup,
// shutdown, transport and scheduling.
package daemon
