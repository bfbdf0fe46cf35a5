// Package harness verifies a durable-orchestration deployment end to end.
//
// RunJourney drives the UI through a Driver: start, wait for the status
// URL, then check until the RetryPolicy sees "Completed". RunDirectJourney
// does the same against the HTTP endpoints without a UI, and
// CheckStartEndpoint asserts the start contract with a single request.
//
// Failures are returned as *ScenarioError wrapping one of
// *PollBudgetExhaustedError, *ElementNotFoundError or *ContractError.
// UI failures carry a page Snapshot, written to disk when the Runner has an
// ArtifactWriter.
package harness
