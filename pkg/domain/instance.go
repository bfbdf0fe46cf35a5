package domain

import (
	"errors"
	"fmt"
	"time"
)

// RuntimeStatus is the execution state reported for an orchestration instance
type RuntimeStatus string

const (
	RuntimeStatusPending        RuntimeStatus = "Pending"
	RuntimeStatusRunning        RuntimeStatus = "Running"
	RuntimeStatusContinuedAsNew RuntimeStatus = "ContinuedAsNew"
	RuntimeStatusSuspended      RuntimeStatus = "Suspended"
	RuntimeStatusCompleted      RuntimeStatus = "Completed"
	RuntimeStatusFailed         RuntimeStatus = "Failed"
	RuntimeStatusCanceled       RuntimeStatus = "Canceled"
	RuntimeStatusTerminated     RuntimeStatus = "Terminated"
)

var (
	// ErrInstanceNotFound is returned when no instance exists for an ID
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceTerminal is returned when a transition is attempted on a finished instance
	ErrInstanceTerminal = errors.New("instance already in terminal state")
)

// IsTerminal reports whether the status can no longer change
func (s RuntimeStatus) IsTerminal() bool {
	switch s {
	case RuntimeStatusCompleted, RuntimeStatusFailed, RuntimeStatusCanceled, RuntimeStatusTerminated:
		return true
	default:
		return false
	}
}

// Instance is the status document of one orchestration instance.
// Its JSON form is the body served by the status-query endpoint.
type Instance struct {
	Name            string        `json:"name"`
	InstanceID      string        `json:"instanceId"`
	RuntimeStatus   RuntimeStatus `json:"runtimeStatus"`
	Input           interface{}   `json:"input"`
	CustomStatus    interface{}   `json:"customStatus"`
	Output          interface{}   `json:"output"`
	CreatedTime     time.Time     `json:"createdTime"`
	LastUpdatedTime time.Time     `json:"lastUpdatedTime"`
}

// Transition moves the instance to a new status, refusing to leave a terminal one
func (i *Instance) Transition(to RuntimeStatus, now time.Time) error {
	if i.RuntimeStatus.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrInstanceTerminal, i.InstanceID, i.RuntimeStatus)
	}
	i.RuntimeStatus = to
	i.LastUpdatedTime = now
	return nil
}

// Clone returns a shallow copy safe to hand out of a store
func (i *Instance) Clone() *Instance {
	c := *i
	return &c
}
