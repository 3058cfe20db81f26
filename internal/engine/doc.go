// Package engine implements the workflow state machine.
//
// Records move queued → rendering → render_complete → captioning →
// caption_complete → distributing → completed, with failed reachable from
// every non-terminal status and retrying used while the recovery sweep
// replaces a stuck job. The engine never waits on a vendor: it starts jobs,
// records their ids and applies results as they arrive through Apply.
package engine
