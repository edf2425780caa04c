package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/artpar/modkernel/adapters/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// sample returns the value of the series name{labels}: counter or gauge
// value, or the sample count for histograms. ok is false when absent.
func sample(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	series:
		for _, m := range f.GetMetric() {
			got := make(map[string]string)
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue series
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue(), true
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue(), true
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount()), true
			}
		}
	}
	return 0, false
}

func TestCollector_Commands(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.CommandExecuted("stock", "ok")
	m.CommandExecuted("stock", "ok")
	m.CommandExecuted("stock", "denied")
	m.CommandExecuted("", "unknown")

	tests := []struct {
		command, result string
		want            float64
	}{
		{"stock", "ok", 2},
		{"stock", "denied", 1},
		{"none", "unknown", 1},
	}
	for _, tt := range tests {
		got, ok := sample(t, reg, "modkernel_commands_total", map[string]string{"command": tt.command, "result": tt.result})
		if !ok || got != tt.want {
			t.Errorf("commands_total{%s,%s} = %v (present %v), want %v", tt.command, tt.result, got, ok, tt.want)
		}
	}
}

func TestCollector_Events(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.EventDispatched("StockAlert", 3)
	m.EventDispatched("StockAlert", 0)

	if got, _ := sample(t, reg, "modkernel_events_dispatched_total", map[string]string{"event": "StockAlert"}); got != 2 {
		t.Errorf("events_dispatched_total = %v, want 2", got)
	}
	if got, _ := sample(t, reg, "modkernel_event_handler_calls_total", map[string]string{"event": "StockAlert"}); got != 3 {
		t.Errorf("event_handler_calls_total = %v, want 3", got)
	}
}

func TestCollector_Tasks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.TaskRun("restock", 20*time.Millisecond, nil)
	m.TaskRun("restock", 5*time.Millisecond, errors.New("supplier offline"))

	if got, _ := sample(t, reg, "modkernel_task_runs_total", map[string]string{"task": "restock", "result": "ok"}); got != 1 {
		t.Errorf("task_runs_total{ok} = %v, want 1", got)
	}
	if got, _ := sample(t, reg, "modkernel_task_runs_total", map[string]string{"task": "restock", "result": "error"}); got != 1 {
		t.Errorf("task_runs_total{error} = %v, want 1", got)
	}
	if got, _ := sample(t, reg, "modkernel_task_duration_seconds", map[string]string{"task": "restock"}); got != 2 {
		t.Errorf("task_duration_seconds count = %v, want 2", got)
	}
}

func TestCollector_Modules(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.StageInvoked("Shop", "secondary", nil)
	m.StageInvoked("Shop", "tertiary", errors.New("boom"))
	m.ModulesDiscovered(4)
	m.ModulesDiscovered(5)

	if got, _ := sample(t, reg, "modkernel_stage_invocations_total", map[string]string{"module": "Shop", "stage": "tertiary", "result": "error"}); got != 1 {
		t.Errorf("stage_invocations_total{tertiary,error} = %v, want 1", got)
	}
	if got, _ := sample(t, reg, "modkernel_modules_discovered", nil); got != 5 {
		t.Errorf("modules_discovered = %v, want 5", got)
	}
}

func TestCollector_ConfigReloaded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	m.ConfigReloaded(at)

	if got, _ := sample(t, reg, "modkernel_config_reloads_total", nil); got != 1 {
		t.Errorf("config_reloads_total = %v, want 1", got)
	}
	if got, _ := sample(t, reg, "modkernel_config_last_reload_timestamp", nil); got != float64(at.Unix()) {
		t.Errorf("config_last_reload_timestamp = %v, want %v", got, at.Unix())
	}
}

func TestNewWithRegistry_DuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewWithRegistry(reg)

	defer func() {
		if recover() == nil {
			t.Error("registering the collector twice should panic")
		}
	}()
	metrics.NewWithRegistry(reg)
}
