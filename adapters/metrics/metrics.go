// Package metrics provides Prometheus metrics collection for the kernel.
package metrics

import (
	"time"

	"github.com/artpar/modkernel/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "modkernel"

// Collector holds all Prometheus metrics and implements ports.Metrics.
type Collector struct {
	// Console metrics
	CommandsTotal *prometheus.CounterVec

	// Event metrics
	EventsDispatched *prometheus.CounterVec
	EventHandlers    *prometheus.CounterVec

	// Task metrics
	TaskRuns     *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	// Module metrics
	StageInvocations *prometheus.CounterVec
	ModulesKnown     prometheus.Gauge

	// Admin API metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Config metrics
	ConfigReloads    prometheus.Counter
	ConfigLastReload prometheus.Gauge
}

// NewWithRegistry creates a collector registered with reg.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Console lines dispatched, by command and result",
			},
			[]string{"command", "result"},
		),

		EventsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dispatched_total",
				Help:      "Events dispatched on the bus",
			},
			[]string{"event"},
		),
		EventHandlers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_handler_calls_total",
				Help:      "Event handler invocations",
			},
			[]string{"event"},
		),

		TaskRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_runs_total",
				Help:      "Scheduled task runs, by task and result",
			},
			[]string{"task", "result"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Scheduled task run duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"task"},
		),

		StageInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_invocations_total",
				Help:      "Module lifecycle stage calls, by module, stage and result",
			},
			[]string{"module", "stage", "result"},
		),
		ModulesKnown: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "modules_discovered",
				Help:      "Modules known to the loader",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admin_requests_total",
				Help:      "Admin API requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admin_request_duration_seconds",
				Help:      "Admin API request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "admin_requests_in_flight",
				Help:      "Admin API requests currently being processed",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Successful configuration reloads",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of the last successful configuration reload",
			},
		),
	}
}

// CommandExecuted records one dispatched console line.
func (c *Collector) CommandExecuted(command, result string) {
	if command == "" {
		command = "none"
	}
	c.CommandsTotal.WithLabelValues(command, result).Inc()
}

// EventDispatched records one Dispatch call.
func (c *Collector) EventDispatched(event string, handlers int) {
	c.EventsDispatched.WithLabelValues(event).Inc()
	c.EventHandlers.WithLabelValues(event).Add(float64(handlers))
}

// TaskRun records one task firing.
func (c *Collector) TaskRun(task string, d time.Duration, err error) {
	c.TaskRuns.WithLabelValues(task, resultOf(err)).Inc()
	c.TaskDuration.WithLabelValues(task).Observe(d.Seconds())
}

// StageInvoked records one lifecycle stage call.
func (c *Collector) StageInvoked(module, stage string, err error) {
	c.StageInvocations.WithLabelValues(module, stage, resultOf(err)).Inc()
}

// ModulesDiscovered sets the number of known modules.
func (c *Collector) ModulesDiscovered(n int) {
	c.ModulesKnown.Set(float64(n))
}

// ConfigReloaded records a successful configuration reload at t.
func (c *Collector) ConfigReloaded(t time.Time) {
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(float64(t.Unix()))
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var _ ports.Metrics = (*Collector)(nil)
