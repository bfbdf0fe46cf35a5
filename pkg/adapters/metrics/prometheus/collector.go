package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records probe, harness and simulated backend metrics using Prometheus
type Collector struct {
	// Controller
	startsTotal   *prometheus.CounterVec
	checksTotal   *prometheus.CounterVec
	startDuration prometheus.Histogram
	checkDuration prometheus.Histogram

	// Harness
	pollAttempts    *prometheus.CounterVec
	journeysTotal   *prometheus.CounterVec
	journeyDuration *prometheus.HistogramVec

	// Simulated backend
	instancesStarted   *prometheus.CounterVec
	instancesCompleted *prometheus.CounterVec
	instanceDuration   *prometheus.HistogramVec
	activitiesExecuted *prometheus.CounterVec
	activityDuration   prometheus.Histogram
	workerPoolIdle     prometheus.Gauge
	workerPoolBusy     prometheus.Gauge
	workerPoolStopped  prometheus.Gauge
}

// NewCollector creates a collector registered with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		startsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dago_probe_orchestration_starts_total",
				Help: "Total number of start requests issued by the controller",
			},
			[]string{"outcome"},
		),
		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dago_probe_status_checks_total",
				Help: "Total number of status checks issued by the controller",
			},
			[]string{"outcome", "runtime_status"},
		),
		startDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dago_probe_orchestration_start_duration_seconds",
				Help:    "Start request round trip in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		),
		checkDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dago_probe_status_check_duration_seconds",
				Help:    "Status check round trip in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		),
		pollAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dago_probe_poll_attempts_total",
				Help: "Total number of harness poll attempts by observed status",
			},
			[]string{"runtime_status"},
		),
		journeysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dago_probe_journeys_total",
				Help: "Total number of harness journeys by outcome",
			},
			[]string{"kind", "outcome"},
		),
		journeyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dago_probe_journey_duration_seconds",
				Help:    "Harness journey duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),
		instancesStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dago_probe_sim_instances_started_total",
				Help: "Total number of simulated orchestration instances started",
			},
			[]string{"orchestrator"},
		),
		instancesCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dago_probe_sim_instances_finished_total",
				Help: "Total number of simulated orchestration instances reaching a terminal status",
			},
			[]string{"runtime_status"},
		),
		instanceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dago_probe_sim_instance_duration_seconds",
				Help:    "Simulated instance lifetime in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"runtime_status"},
		),
		activitiesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dago_probe_sim_activities_executed_total",
				Help: "Total number of simulated activities executed",
			},
			[]string{"status"},
		),
		activityDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dago_probe_sim_activity_duration_seconds",
				Help:    "Simulated activity duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dago_probe_sim_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dago_probe_sim_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dago_probe_sim_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordStart records a controller start request
func (c *Collector) RecordStart(outcome string, duration time.Duration) {
	c.startsTotal.WithLabelValues(outcome).Inc()
	c.startDuration.Observe(duration.Seconds())
}

// RecordCheck records a controller status check
func (c *Collector) RecordCheck(outcome, runtimeStatus string, duration time.Duration) {
	c.checksTotal.WithLabelValues(outcome, runtimeStatus).Inc()
	c.checkDuration.Observe(duration.Seconds())
}

// RecordPollAttempt records one harness poll attempt
func (c *Collector) RecordPollAttempt(runtimeStatus string) {
	c.pollAttempts.WithLabelValues(runtimeStatus).Inc()
}

// RecordJourney records a finished harness journey
func (c *Collector) RecordJourney(kind, outcome string, duration time.Duration) {
	c.journeysTotal.WithLabelValues(kind, outcome).Inc()
	c.journeyDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordInstanceStarted records a simulated instance start
func (c *Collector) RecordInstanceStarted(name string) {
	c.instancesStarted.WithLabelValues(name).Inc()
}

// RecordInstanceCompleted records a simulated instance reaching a terminal status
func (c *Collector) RecordInstanceCompleted(status string, duration time.Duration) {
	c.instancesCompleted.WithLabelValues(status).Inc()
	c.instanceDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordActivityExecuted records a simulated activity execution
func (c *Collector) RecordActivityExecuted(status string, duration time.Duration) {
	c.activitiesExecuted.WithLabelValues(status).Inc()
	c.activityDuration.Observe(duration.Seconds())
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
