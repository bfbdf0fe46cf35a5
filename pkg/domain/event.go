package domain

import "time"

// EventType identifies an instance lifecycle event
type EventType string

const (
	EventTypeInstanceScheduled  EventType = "instance.scheduled"
	EventTypeInstanceStarted    EventType = "instance.started"
	EventTypeInstanceCompleted  EventType = "instance.completed"
	EventTypeInstanceFailed     EventType = "instance.failed"
	EventTypeInstanceTerminated EventType = "instance.terminated"
	EventTypeInstancePurged     EventType = "instance.purged"
)

// TopicInstances is the event bus topic carrying instance lifecycle events
const TopicInstances = "instance.events"

// Event is a lifecycle event published on the event bus
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	InstanceID string                 `json:"instance_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// IsFinal reports whether no further events follow this one for the instance
func (e Event) IsFinal() bool {
	switch e.Type {
	case EventTypeInstanceCompleted, EventTypeInstanceFailed, EventTypeInstanceTerminated, EventTypeInstancePurged:
		return true
	default:
		return false
	}
}
