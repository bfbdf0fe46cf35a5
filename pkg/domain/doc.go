// Package domain holds the types shared by the simulated orchestration backend,
// its adapters and its API surface: orchestration instances, their runtime
// status and the events published while an instance advances.
package domain
