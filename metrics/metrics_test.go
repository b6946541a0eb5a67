package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveCallRecordsOutcome(t *testing.T) {
	m := NewForRegistry(prometheus.NewRegistry())

	m.ObserveCall("Storage", "Get", 0.01, nil)
	m.ObserveCall("Storage", "Get", 0.02, errors.New("boom"))

	var metric dto.Metric
	if err := m.DispatchTotal.WithLabelValues("Storage", "Get", "ok").Write(&metric); err != nil {
		t.Fatalf("Write ok counter: %v", err)
	}
	if metric.GetCounter().GetValue() != 1 {
		t.Fatalf("ok counter = %v, want 1", metric.GetCounter().GetValue())
	}

	var errMetric dto.Metric
	if err := m.DispatchTotal.WithLabelValues("Storage", "Get", "error").Write(&errMetric); err != nil {
		t.Fatalf("Write error counter: %v", err)
	}
	if errMetric.GetCounter().GetValue() != 1 {
		t.Fatalf("error counter = %v, want 1", errMetric.GetCounter().GetValue())
	}
}

func TestSetCheckpointDepth(t *testing.T) {
	m := NewForRegistry(prometheus.NewRegistry())
	m.SetCheckpointDepth("session-1", 3)

	var metric dto.Metric
	if err := m.CheckpointDepth.WithLabelValues("session-1").Write(&metric); err != nil {
		t.Fatalf("Write gauge: %v", err)
	}
	if metric.GetGauge().GetValue() != 3 {
		t.Fatalf("checkpoint depth = %v, want 3", metric.GetGauge().GetValue())
	}
}
