// Package ports declares the interfaces the simulated backend depends on.
// Adapters under pkg/adapters provide the implementations.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/dago-probe/pkg/domain"
)

// EventHandler processes one event delivered by the bus
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes lifecycle events and delivers them to subscribers.
//
// Every consumer group subscribed to a topic receives each event once;
// handlers sharing a group split the events between them.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic, group string, handler EventHandler) error
	Close() error
}

// InstanceStore persists orchestration instance status documents
type InstanceStore interface {
	Save(ctx context.Context, instance *domain.Instance) error
	Get(ctx context.Context, instanceID string) (*domain.Instance, error)
	// Update applies fn to the stored instance atomically; an error from fn aborts the write
	Update(ctx context.Context, instanceID string, fn func(*domain.Instance) error) (*domain.Instance, error)
	Delete(ctx context.Context, instanceID string) error
	List(ctx context.Context) ([]*domain.Instance, error)
}

// MetricsCollector records simulated backend metrics
type MetricsCollector interface {
	RecordInstanceStarted(name string)
	RecordInstanceCompleted(status string, duration time.Duration)
	RecordActivityExecuted(status string, duration time.Duration)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}
