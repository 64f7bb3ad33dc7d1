package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}
	if m.EventsTotal == nil {
		t.Error("EventsTotal is nil")
	}
	if m.RecordsTotal == nil {
		t.Error("RecordsTotal is nil")
	}
	if m.WatchRestartsTotal == nil {
		t.Error("WatchRestartsTotal is nil")
	}
	if m.ReconcileDurationSeconds == nil {
		t.Error("ReconcileDurationSeconds is nil")
	}
	if m.Ready == nil {
		t.Error("Ready is nil")
	}
}

func TestGlobalMetrics(t *testing.T) {
	// Initially global should be nil
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)

	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}

	// Cleanup
	SetGlobal(nil)
}

func TestHelpersWithoutGlobal(t *testing.T) {
	// Must not panic when metrics are disabled
	IncEvents("ADDED")
	IncRecords(OutcomeRegistered)
	IncWatchRestarts()
	ObserveReconcileDuration(time.Millisecond)
	SetReady(true)
}

func TestIncEvents(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncEvents("ADDED")
	IncEvents("ADDED")
	IncEvents("DELETED")

	if got := counterValue(t, m.EventsTotal.WithLabelValues("ADDED")); got != 2 {
		t.Errorf("ADDED events = %f, want 2", got)
	}
	if got := counterValue(t, m.EventsTotal.WithLabelValues("DELETED")); got != 1 {
		t.Errorf("DELETED events = %f, want 1", got)
	}
}

func TestIncRecords(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncRecords(OutcomeRegistered)
	IncRecords(OutcomeRejected)
	IncRecords(OutcomeRejected)
	IncRecords(OutcomeFailed)

	tests := []struct {
		outcome string
		want    float64
	}{
		{OutcomeRegistered, 1},
		{OutcomeRejected, 2},
		{OutcomeFailed, 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, m.RecordsTotal.WithLabelValues(tt.outcome)); got != tt.want {
			t.Errorf("%s records = %f, want %f", tt.outcome, got, tt.want)
		}
	}
}

func TestIncWatchRestarts(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncWatchRestarts()
	IncWatchRestarts()

	if got := counterValue(t, m.WatchRestartsTotal); got != 2 {
		t.Errorf("watch restarts = %f, want 2", got)
	}
}

func TestSetReady(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	SetReady(true)
	if got := gaugeValue(t, m.Ready); got != 1 {
		t.Errorf("ready = %f, want 1", got)
	}

	SetReady(false)
	if got := gaugeValue(t, m.Ready); got != 0 {
		t.Errorf("ready = %f, want 0", got)
	}
}

func TestObserveReconcileDuration(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	ObserveReconcileDuration(80 * time.Millisecond)
	ObserveReconcileDuration(120 * time.Millisecond)

	var metric dto.Metric
	if err := m.ReconcileDurationSeconds.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if got := metric.Histogram.GetSampleCount(); got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestNewExportsEveryOutcome(t *testing.T) {
	m := New()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	got := make(map[string]float64)
	for _, family := range families {
		if family.GetName() != familyRecords {
			continue
		}
		for _, metric := range family.GetMetric() {
			got[labelValue(metric, "outcome")] = metric.GetCounter().GetValue()
		}
	}

	if len(got) != len(Outcomes) {
		t.Errorf("records series = %v, want one per outcome %v", got, Outcomes)
	}
	for _, outcome := range Outcomes {
		if v, ok := got[outcome]; !ok || v != 0 {
			t.Errorf("%s records = %v (present %v), want 0", outcome, v, ok)
		}
	}
}
