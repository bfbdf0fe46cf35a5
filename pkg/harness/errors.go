package harness

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPollBudgetExhausted is matched by *PollBudgetExhaustedError
	ErrPollBudgetExhausted = errors.New("poll budget exhausted")

	// ErrElementNotFound is matched by *ElementNotFoundError
	ErrElementNotFound = errors.New("element not found")

	// ErrContractViolation is matched by *ContractError
	ErrContractViolation = errors.New("contract violation")
)

// PollBudgetExhaustedError reports a poll loop that never saw a terminal status
type PollBudgetExhaustedError struct {
	LastStatus string
	Attempts   []PollAttempt
}

func (e *PollBudgetExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: last status %q", ErrPollBudgetExhausted, len(e.Attempts), e.LastStatus)
}

func (e *PollBudgetExhaustedError) Unwrap() error {
	return ErrPollBudgetExhausted
}

// ElementNotFoundError reports a UI element that did not appear in time
type ElementNotFoundError struct {
	Element  string
	Timeout  time.Duration
	Snapshot *Snapshot
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s not visible within %s", ErrElementNotFound, e.Element, e.Timeout)
}

func (e *ElementNotFoundError) Unwrap() error {
	return ErrElementNotFound
}

// ContractError reports a response that breaks the consumed contract.
// It is never retried.
type ContractError struct {
	Endpoint   string
	StatusCode int
	Reason     string
}

func (e *ContractError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", ErrContractViolation, e.Endpoint, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrContractViolation, e.Endpoint, e.Reason)
}

func (e *ContractError) Unwrap() error {
	return ErrContractViolation
}

// ScenarioError is a failed journey step with its diagnostics
type ScenarioError struct {
	Scenario string
	Step     string
	Err      error
	Snapshot *Snapshot
	// Artifacts lists the files the snapshot was written to
	Artifacts []string
}

func (e *ScenarioError) Error() string {
	return fmt.Sprintf("scenario %q failed at %s: %v", e.Scenario, e.Step, e.Err)
}

func (e *ScenarioError) Unwrap() error {
	return e.Err
}
