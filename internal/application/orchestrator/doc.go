// Package orchestrator implements the simulated orchestration backend used for
// local runs and tests.
//
// The manager coordinates instance lifecycles by:
//   - Validating orchestrator names against the registered set
//   - Holding new instances in Pending, then scheduling them on the event bus
//   - Terminating, purging and timing out instances
//   - Tracking instance documents via the instance store
//
// It walks a fixed Pending, Running, Completed progression. There is no
// history, checkpointing or replay.
package orchestrator
