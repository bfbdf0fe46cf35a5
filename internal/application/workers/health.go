package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is a point-in-time view of the worker pool
type HealthStatus struct {
	TotalWorkers   int
	IdleWorkers    int
	BusyWorkers    int
	StoppedWorkers int
	QueuedJobs     int
	// Saturated means every worker is busy and scheduled instances are
	// waiting, so they stay Pending past the configured start delay
	Saturated bool
	Healthy   bool
	Timestamp time.Time
}

// HealthMonitor samples the pool on an interval, records the worker gauges
// and logs when health or saturation flips
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	last   *HealthStatus
}

// NewHealthMonitor creates a monitor for pool. A non-positive interval
// disables sampling; GetStatus still works.
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
	}
}

// Start begins sampling. Calling it twice is a no-op.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopCh != nil || h.interval <= 0 {
		return
	}
	h.stopCh = make(chan struct{})

	go h.loop(h.stopCh, h.interval)
}

// Stop ends sampling
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopCh == nil {
		return
	}
	close(h.stopCh)
	h.stopCh = nil
}

func (h *HealthMonitor) loop(stopCh <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			h.sample()
		}
	}
}

// sample records the gauges and logs transitions
func (h *HealthMonitor) sample() {
	status := h.GetStatus()
	h.pool.metrics.RecordWorkerPoolStatus(status.IdleWorkers, status.BusyWorkers, status.StoppedWorkers)

	h.mu.Lock()
	prev := h.last
	h.last = status
	h.mu.Unlock()

	fields := []zap.Field{
		zap.Int("total", status.TotalWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("stopped", status.StoppedWorkers),
		zap.Int("queued", status.QueuedJobs),
	}

	switch {
	case prev == nil || prev.Healthy != status.Healthy:
		if status.Healthy {
			h.logger.Info("worker pool healthy", fields...)
		} else {
			h.logger.Warn("worker pool unhealthy", fields...)
		}
	case prev.Saturated != status.Saturated:
		if status.Saturated {
			h.logger.Warn("worker pool saturated; instances will stay Pending longer", fields...)
		} else {
			h.logger.Info("worker pool caught up", fields...)
		}
	default:
		h.logger.Debug("worker pool sampled", fields...)
	}
}

// GetStatus computes the current status of the pool
func (h *HealthMonitor) GetStatus() *HealthStatus {
	status := &HealthStatus{
		QueuedJobs: len(h.pool.jobs),
		Timestamp:  time.Now(),
	}

	for _, s := range h.pool.GetStatus() {
		status.TotalWorkers++
		switch s {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
	}

	status.Healthy = status.TotalWorkers > 0 && status.StoppedWorkers == 0
	status.Saturated = status.TotalWorkers > 0 &&
		status.BusyWorkers == status.TotalWorkers &&
		status.QueuedJobs > 0

	return status
}

// IsHealthy reports whether every worker is running
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
