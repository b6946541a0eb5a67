// Package metrics wires the coordinator's and module runtime's operational
// counters into Prometheus: call latency, dispatch volume, checkpoint
// stack depth, and sandbox lifecycle events.
//
// No teacher file uses Prometheus directly, but exposing operational
// metrics for a long-running service is exactly the kind of ambient
// concern this tree carries regardless of the spec's feature-level
// Non-goals — see DESIGN.md. github.com/prometheus/client_golang is the
// standard choice for this in the Go ecosystem and across the broader
// example pack's domain (service cores exposing /metrics).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector this core exposes. The zero value is
// not usable; construct with New or NewForRegistry.
type Metrics struct {
	CallLatency      *prometheus.HistogramVec
	DispatchTotal    *prometheus.CounterVec
	CheckpointDepth  *prometheus.GaugeVec
	SandboxLifecycle *prometheus.CounterVec
}

// New creates a Metrics bundle registered against prometheus's global
// default registry.
func New() *Metrics {
	return NewForRegistry(prometheus.DefaultRegisterer)
}

// NewForRegistry creates a Metrics bundle registered against reg. Passing
// a fresh prometheus.NewRegistry() (rather than the global default) is
// useful in tests that construct more than one Metrics in the same
// process, since the default registry rejects duplicate collector
// registration.
func NewForRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coordinator",
			Name:      "call_latency_seconds",
			Help:      "Latency of RTO calls dispatched through a port, by trait and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trait", "method"}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "dispatch_total",
			Help:      "Count of RTO calls completed through a port (outbound and inbound), by trait, method, and outcome.",
		}, []string{"trait", "method", "outcome"}),
		CheckpointDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coordinator",
			Name:      "checkpoint_depth",
			Help:      "Current sub-storage checkpoint stack depth, by session.",
		}, []string{"session"}),
		SandboxLifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "sandbox_lifecycle_total",
			Help:      "Count of sandbox lifecycle transitions, by module and transition.",
		}, []string{"module", "transition"}),
	}

	reg.MustRegister(m.CallLatency, m.DispatchTotal, m.CheckpointDepth, m.SandboxLifecycle)
	return m
}

// ObserveCall records the latency of one completed call and its outcome.
func (m *Metrics) ObserveCall(trait, method string, seconds float64, err error) {
	m.CallLatency.WithLabelValues(trait, method).Observe(seconds)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.DispatchTotal.WithLabelValues(trait, method, outcome).Inc()
}

// SetCheckpointDepth records session's current checkpoint stack depth.
func (m *Metrics) SetCheckpointDepth(session string, depth int) {
	m.CheckpointDepth.WithLabelValues(session).Set(float64(depth))
}

// RecordSandboxTransition increments the lifecycle counter for module's
// transition (modrt passes the new state's name, e.g. "Running", "Dead").
func (m *Metrics) RecordSandboxTransition(module, transition string) {
	m.SandboxLifecycle.WithLabelValues(module, transition).Inc()
}
