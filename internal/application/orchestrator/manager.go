package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/dago-probe/pkg/domain"
	"github.com/aescanero/dago-probe/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager coordinates simulated orchestration instances
type Manager struct {
	eventBus  ports.EventBus
	store     ports.InstanceStore
	metrics   ports.MetricsCollector
	validator *Validator
	logger    *zap.Logger

	// Track active executions
	executions sync.Map // map[string]*executionContext

	// Configuration
	startDelay      time.Duration
	instanceTimeout time.Duration
	monitorInterval time.Duration
}

// executionContext holds state for a single tracked instance
type executionContext struct {
	instanceID string
	startedAt  time.Time
	cancelFunc context.CancelFunc
}

// Options tunes instance timing
type Options struct {
	// StartDelay is how long a new instance stays Pending before being scheduled
	StartDelay time.Duration
	// InstanceTimeout fails instances that have not finished in time
	InstanceTimeout time.Duration
	// MonitorInterval is how often tracked instances are checked for completion
	MonitorInterval time.Duration
}

// NewManager creates a new orchestrator manager
func NewManager(
	eventBus ports.EventBus,
	store ports.InstanceStore,
	metrics ports.MetricsCollector,
	validator *Validator,
	logger *zap.Logger,
	opts Options,
) *Manager {
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = 500 * time.Millisecond
	}
	if opts.InstanceTimeout <= 0 {
		opts.InstanceTimeout = 5 * time.Minute
	}

	return &Manager{
		eventBus:        eventBus,
		store:           store,
		metrics:         metrics,
		validator:       validator,
		logger:          logger,
		startDelay:      opts.StartDelay,
		instanceTimeout: opts.InstanceTimeout,
		monitorInterval: opts.MonitorInterval,
	}
}

// StartNew creates a Pending instance of the named orchestrator and returns its ID
func (m *Manager) StartNew(ctx context.Context, name string, input interface{}) (string, error) {
	if err := m.validator.Validate(name); err != nil {
		m.logger.Warn("start rejected",
			zap.String("orchestrator", name),
			zap.Error(err))
		return "", err
	}

	instanceID := strings.ReplaceAll(uuid.New().String(), "-", "")
	now := time.Now().UTC()

	instance := &domain.Instance{
		Name:            name,
		InstanceID:      instanceID,
		RuntimeStatus:   domain.RuntimeStatusPending,
		Input:           input,
		CreatedTime:     now,
		LastUpdatedTime: now,
	}

	if err := m.store.Save(ctx, instance); err != nil {
		m.logger.Error("failed to save new instance",
			zap.String("instance_id", instanceID),
			zap.Error(err))
		return "", fmt.Errorf("failed to save instance: %w", err)
	}

	execCtx, cancel := context.WithTimeout(context.Background(), m.instanceTimeout)
	m.executions.Store(instanceID, &executionContext{
		instanceID: instanceID,
		startedAt:  now,
		cancelFunc: cancel,
	})

	m.metrics.RecordInstanceStarted(name)
	m.logger.Info("orchestration started",
		zap.String("instance_id", instanceID),
		zap.String("orchestrator", name))

	go m.monitorExecution(execCtx, instanceID, m.validator.ActivityFor(name), input)

	return instanceID, nil
}

// GetStatus retrieves the current status document of an instance
func (m *Manager) GetStatus(ctx context.Context, instanceID string) (*domain.Instance, error) {
	instance, err := m.store.Get(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return instance, nil
}

// Terminate stops a non-terminal instance and marks it Terminated
func (m *Manager) Terminate(ctx context.Context, instanceID, reason string) error {
	instance, err := m.store.Update(ctx, instanceID, func(i *domain.Instance) error {
		if err := i.Transition(domain.RuntimeStatusTerminated, time.Now().UTC()); err != nil {
			return err
		}
		i.Output = reason
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to terminate instance: %w", err)
	}

	m.release(instanceID)
	m.metrics.RecordInstanceCompleted(string(domain.RuntimeStatusTerminated), instance.LastUpdatedTime.Sub(instance.CreatedTime))
	m.publish(ctx, instanceID, domain.EventTypeInstanceTerminated, map[string]interface{}{
		"reason": reason,
	})

	m.logger.Info("orchestration terminated",
		zap.String("instance_id", instanceID),
		zap.String("reason", reason))

	return nil
}

// Purge deletes an instance document, stopping it first if it is still tracked
func (m *Manager) Purge(ctx context.Context, instanceID string) error {
	m.release(instanceID)

	if err := m.store.Delete(ctx, instanceID); err != nil {
		return fmt.Errorf("failed to purge instance: %w", err)
	}

	m.publish(ctx, instanceID, domain.EventTypeInstancePurged, nil)
	m.logger.Info("orchestration purged", zap.String("instance_id", instanceID))

	return nil
}

// CountByStatus counts the stored instances per runtime status
func (m *Manager) CountByStatus(ctx context.Context) (map[domain.RuntimeStatus]int, error) {
	instances, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	counts := make(map[domain.RuntimeStatus]int)
	for _, instance := range instances {
		counts[instance.RuntimeStatus]++
	}
	return counts, nil
}

// ActiveCount returns the number of tracked, unfinished instances
func (m *Manager) ActiveCount() int {
	n := 0
	m.executions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// monitorExecution schedules the instance after the start delay, then watches it
// until it finishes, is released or times out
func (m *Manager) monitorExecution(ctx context.Context, instanceID, activity string, input interface{}) {
	delay := time.NewTimer(m.startDelay)
	defer delay.Stop()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			m.handleTimeout(instanceID)
		}
		return
	case <-delay.C:
	}

	m.publish(ctx, instanceID, domain.EventTypeInstanceScheduled, map[string]interface{}{
		"activity": activity,
		"input":    input,
	})

	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				m.handleTimeout(instanceID)
			}
			return

		case <-ticker.C:
			instance, err := m.store.Get(context.Background(), instanceID)
			if err != nil {
				if errors.Is(err, domain.ErrInstanceNotFound) {
					m.release(instanceID)
					return
				}
				m.logger.Error("failed to get instance during monitoring",
					zap.String("instance_id", instanceID),
					zap.Error(err))
				continue
			}

			if instance.RuntimeStatus.IsTerminal() {
				m.release(instanceID)
				return
			}
		}
	}
}

// handleTimeout marks a timed-out instance Failed
func (m *Manager) handleTimeout(instanceID string) {
	m.logger.Warn("orchestration timed out",
		zap.String("instance_id", instanceID))

	ctx := context.Background()
	defer m.executions.Delete(instanceID)

	instance, err := m.store.Update(ctx, instanceID, func(i *domain.Instance) error {
		if err := i.Transition(domain.RuntimeStatusFailed, time.Now().UTC()); err != nil {
			return err
		}
		i.Output = "execution timeout"
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInstanceTerminal) {
			m.logger.Error("failed to fail timed out instance",
				zap.String("instance_id", instanceID),
				zap.Error(err))
		}
		return
	}

	m.metrics.RecordInstanceCompleted(string(domain.RuntimeStatusFailed), instance.LastUpdatedTime.Sub(instance.CreatedTime))
	m.publish(ctx, instanceID, domain.EventTypeInstanceFailed, map[string]interface{}{
		"error": "execution timeout",
	})
}

// release stops tracking an instance and cancels its monitor
func (m *Manager) release(instanceID string) {
	if val, ok := m.executions.LoadAndDelete(instanceID); ok {
		val.(*executionContext).cancelFunc()
	}
}

// publish publishes a lifecycle event, logging failures
func (m *Manager) publish(ctx context.Context, instanceID string, eventType domain.EventType, data map[string]interface{}) {
	event := domain.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		InstanceID: instanceID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
	}

	if err := m.eventBus.Publish(ctx, domain.TopicInstances, event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("instance_id", instanceID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

// Shutdown stops monitoring all active instances
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.executions.Range(func(key, value interface{}) bool {
		value.(*executionContext).cancelFunc()
		m.executions.Delete(key)
		return true
	})

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}
