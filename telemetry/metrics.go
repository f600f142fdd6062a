package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wippyai/wasm-space/registry"
	"github.com/wippyai/wasm-space/resource"
)

// Metrics holds the Prometheus collectors of one host. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	InFlight          prometheus.Gauge
	Transitions       *prometheus.CounterVec
	Resources         *prometheus.GaugeVec
	GuestCalls        *prometheus.CounterVec
	ConfigReloads     prometheus.Counter
}

// NewMetrics creates collectors registered on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wasmspace",
				Name:      "operations_total",
				Help:      "Routed capability operations by kind, operation and outcome",
			},
			[]string{"kind", "op", "outcome"},
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wasmspace",
				Name:      "operation_duration_seconds",
				Help:      "Routed operation latency in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"kind", "op"},
		),
		InFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "wasmspace",
				Name:      "operations_in_flight",
				Help:      "Routed operations currently executing",
			},
		),
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wasmspace",
				Name:      "transitions_total",
				Help:      "Lifecycle transitions recorded",
			},
			[]string{"from", "to"},
		),
		Resources: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "wasmspace",
				Name:      "resources",
				Help:      "Live resources by kind",
			},
			[]string{"kind"},
		),
		GuestCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wasmspace",
				Name:      "guest_calls_total",
				Help:      "Capability imports called by guests",
			},
			[]string{"op", "outcome"},
		),
		ConfigReloads: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "wasmspace",
				Name:      "config_reloads_total",
				Help:      "Configuration reloads applied",
			},
		),
	}
}

// Gatherer exposes the private registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one routed operation.
func (m *Metrics) ObserveOperation(kind, op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(kind, op, outcome).Inc()
	m.OperationDuration.WithLabelValues(kind, op).Observe(elapsed.Seconds())
}

// Begin marks an operation in flight and returns its completion func.
func (m *Metrics) Begin() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}

// ObserveTransition records a lifecycle edge.
func (m *Metrics) ObserveTransition(from, to registry.State) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// ObserveGuestCall records a capability import call.
func (m *Metrics) ObserveGuestCall(op, outcome string) {
	if m == nil {
		return
	}
	m.GuestCalls.WithLabelValues(op, outcome).Inc()
}

// Watch keeps the resource gauge in sync with reg.
func (m *Metrics) Watch(reg *registry.Registry) {
	if m == nil {
		return
	}
	for _, rec := range reg.Snapshot() {
		m.Resources.WithLabelValues(rec.Kind.String()).Inc()
	}
	reg.Subscribe(func(e registry.Event) {
		switch e.Type {
		case resource.EventCreated:
			m.Resources.WithLabelValues(e.Record.Kind.String()).Inc()
		case resource.EventDropped:
			m.Resources.WithLabelValues(e.Record.Kind.String()).Dec()
		}
	})
}
