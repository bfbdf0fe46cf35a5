package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/dago-probe/pkg/domain"
	"github.com/aescanero/dago-probe/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriberGroup is the event bus group shared by all pools
const subscriberGroup = "workers"

// Pool manages a pool of worker goroutines
type Pool struct {
	size             int
	eventBus         ports.EventBus
	store            ports.InstanceStore
	metrics          ports.MetricsCollector
	logger           *zap.Logger
	health           *HealthMonitor
	activityDuration time.Duration

	activities map[string]Activity
	jobs       chan domain.Event

	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool with the say_hello activity registered
func NewPool(
	size int,
	eventBus ports.EventBus,
	store ports.InstanceStore,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
	activityDuration time.Duration,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:             size,
		eventBus:         eventBus,
		store:            store,
		metrics:          metrics,
		logger:           logger,
		activityDuration: activityDuration,
		activities:       map[string]Activity{"say_hello": SayHello},
		jobs:             make(chan domain.Event, size),
		workers:          make([]*worker, size),
		ctx:              ctx,
		cancel:           cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// RegisterActivity adds or replaces an activity. Call before Start.
func (p *Pool) RegisterActivity(name string, activity Activity) {
	p.activities[name] = activity
}

// Start subscribes to instance events and starts the workers
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	if err := p.eventBus.Subscribe(p.ctx, domain.TopicInstances, subscriberGroup, p.dispatch); err != nil {
		return fmt.Errorf("failed to subscribe to instance events: %w", err)
	}

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Shutdown gracefully shuts down the worker pool
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// dispatch hands scheduled instances to the workers
func (p *Pool) dispatch(ctx context.Context, event domain.Event) error {
	if event.Type != domain.EventTypeInstanceScheduled {
		return nil
	}

	select {
	case p.jobs <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.setStatus(WorkerStatusStopped)
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case event := <-w.pool.jobs:
			w.handleScheduled(ctx, event)
		}
	}
}

func (w *worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	w.status = status
	if status == WorkerStatusBusy {
		w.lastJob = time.Now()
	}
	w.mu.Unlock()
}

// handleScheduled runs a scheduled instance to completion
func (w *worker) handleScheduled(ctx context.Context, event domain.Event) {
	w.setStatus(WorkerStatusBusy)
	defer w.setStatus(WorkerStatusIdle)

	instanceID := event.InstanceID
	activityName, _ := event.Data["activity"].(string)
	input := event.Data["input"]

	logger := w.pool.logger.With(
		zap.String("worker_id", w.id),
		zap.String("instance_id", instanceID),
		zap.String("activity", activityName))

	activity, ok := w.pool.activities[activityName]
	if !ok {
		logger.Error("unknown activity")
		w.finish(ctx, logger, instanceID, nil, fmt.Errorf("unknown activity %q", activityName), 0)
		return
	}

	_, err := w.pool.store.Update(ctx, instanceID, func(i *domain.Instance) error {
		return i.Transition(domain.RuntimeStatusRunning, time.Now().UTC())
	})
	if err != nil {
		if errors.Is(err, domain.ErrInstanceTerminal) || errors.Is(err, domain.ErrInstanceNotFound) {
			logger.Info("skipping instance no longer runnable", zap.Error(err))
			return
		}
		logger.Error("failed to mark instance running", zap.Error(err))
		return
	}

	w.publishEvent(ctx, instanceID, domain.EventTypeInstanceStarted, map[string]interface{}{
		"activity": activityName,
	})

	startTime := time.Now()

	// Simulated work
	timer := time.NewTimer(w.pool.activityDuration)
	select {
	case <-ctx.Done():
		timer.Stop()
		logger.Info("activity interrupted by shutdown")
		return
	case <-timer.C:
	}

	output, execErr := activity(ctx, input)
	w.finish(ctx, logger, instanceID, output, execErr, time.Since(startTime))
}

// finish records the activity outcome on the instance
func (w *worker) finish(ctx context.Context, logger *zap.Logger, instanceID string, output interface{}, execErr error, duration time.Duration) {
	status := domain.RuntimeStatusCompleted
	eventType := domain.EventTypeInstanceCompleted
	if execErr != nil {
		status = domain.RuntimeStatusFailed
		eventType = domain.EventTypeInstanceFailed
		output = execErr.Error()
	}

	instance, err := w.pool.store.Update(ctx, instanceID, func(i *domain.Instance) error {
		if err := i.Transition(status, time.Now().UTC()); err != nil {
			return err
		}
		i.Output = output
		return nil
	})
	if err != nil {
		// Terminated or purged while the activity ran
		logger.Info("discarding activity result", zap.Error(err))
		return
	}

	w.pool.metrics.RecordActivityExecuted(string(status), duration)
	w.pool.metrics.RecordInstanceCompleted(string(status), instance.LastUpdatedTime.Sub(instance.CreatedTime))
	w.publishEvent(ctx, instanceID, eventType, map[string]interface{}{
		"output": output,
	})

	logger.Info("orchestration finished",
		zap.String("runtime_status", string(status)),
		zap.Duration("duration", duration))
}

// publishEvent publishes an event to the event bus
func (w *worker) publishEvent(ctx context.Context, instanceID string, eventType domain.EventType, data map[string]interface{}) {
	event := domain.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		InstanceID: instanceID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
	}

	if err := w.pool.eventBus.Publish(ctx, domain.TopicInstances, event); err != nil {
		w.pool.logger.Error("failed to publish event",
			zap.String("worker_id", w.id),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
