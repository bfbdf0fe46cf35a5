package controller

import "time"

// Phase is the coarse position of a session in the start/check flow
type Phase string

const (
	PhaseIdle    Phase = "Idle"
	PhaseStarted Phase = "Started"
	PhaseChecked Phase = "Checked"
)

// Handle is the reference to a started orchestration instance
type Handle struct {
	StatusQueryURL string
}

// Snapshot is the latest status observed for the instance
type Snapshot struct {
	RuntimeStatus string
	ObservedAt    time.Time
}

// State is the full controller state. Values are never modified in place.
type State struct {
	Phase    Phase
	Handle   *Handle
	Snapshot *Snapshot
	// Alert is the user-visible message of the last failure, empty after a success
	Alert string
}

// HasHandle reports whether a status query is possible
func (s State) HasHandle() bool {
	return s.Handle != nil
}

// StatusURL returns the stored status-query URL, or "" when none is set
func (s State) StatusURL() string {
	if s.Handle == nil {
		return ""
	}
	return s.Handle.StatusQueryURL
}

// RuntimeStatus returns the raw status token of the latest snapshot, or ""
func (s State) RuntimeStatus() string {
	if s.Snapshot == nil {
		return ""
	}
	return s.Snapshot.RuntimeStatus
}

// StatusText is the displayed status line. It always contains the raw token.
func (s State) StatusText() string {
	if s.Snapshot == nil {
		return ""
	}
	return "Status: " + s.Snapshot.RuntimeStatus
}

// Event is an outcome folded into State by Reduce
type Event interface {
	isEvent()
}

// StartSucceeded carries the handle of a newly started instance
type StartSucceeded struct {
	Handle Handle
}

// StartFailed carries the reason a start attempt failed
type StartFailed struct {
	Err error
}

// CheckSucceeded carries a freshly observed snapshot
type CheckSucceeded struct {
	Snapshot Snapshot
}

// CheckFailed carries the reason a status check failed
type CheckFailed struct {
	Err error
}

func (StartSucceeded) isEvent() {}
func (StartFailed) isEvent()    {}
func (CheckSucceeded) isEvent() {}
func (CheckFailed) isEvent()    {}

// Reduce returns the state that follows s after e.
//
// A failed start drops any earlier handle and snapshot. A failed check keeps
// both so the check can be retried. A check result without a handle is ignored.
func Reduce(s State, e Event) State {
	switch ev := e.(type) {
	case StartSucceeded:
		h := ev.Handle
		return State{Phase: PhaseStarted, Handle: &h}

	case StartFailed:
		return State{Phase: PhaseIdle, Alert: alertText("Failed to start orchestration", ev.Err)}

	case CheckSucceeded:
		if s.Handle == nil {
			return s
		}
		snap := ev.Snapshot
		return State{Phase: PhaseChecked, Handle: s.Handle, Snapshot: &snap}

	case CheckFailed:
		if s.Handle == nil {
			return s
		}
		next := s
		next.Alert = alertText("Failed to check status", ev.Err)
		return next
	}

	return s
}

func alertText(prefix string, err error) string {
	if err == nil {
		return prefix
	}
	return prefix + ": " + err.Error()
}
