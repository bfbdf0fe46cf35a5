// Package workers implements the worker pool that runs simulated activities.
//
// The pool subscribes once to instance events and fans scheduled instances
// out to a fixed number of goroutines that:
//   - Move the instance to Running
//   - Run the orchestrator's activity after the configured delay
//   - Record the output and move the instance to Completed or Failed
//   - Publish lifecycle events
//
// The health monitor tracks worker status and logs metrics.
package workers
