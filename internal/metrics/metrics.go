// Package metrics exposes engine counters on a dedicated Prometheus registry.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors
type Metrics struct {
	registry *prometheus.Registry

	// packets counts verification packets by overall status
	packets *prometheus.CounterVec

	// gateDecisions counts compliance gate outcomes (allowed, blocked)
	gateDecisions *prometheus.CounterVec

	// auditAppends counts audit writes by event type and result
	auditAppends *prometheus.CounterVec

	// verificationSeconds measures whole-manuscript verification runs
	verificationSeconds prometheus.Histogram
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claimgate",
			Name:      "packets_total",
			Help:      "Verification packets created, by overall status",
		}, []string{"status"}),
		gateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claimgate",
			Name:      "gate_decisions_total",
			Help:      "Compliance gate decisions, by outcome",
		}, []string{"decision"}),
		auditAppends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claimgate",
			Name:      "audit_appends_total",
			Help:      "Audit log appends, by event type and result",
		}, []string{"event_type", "result"}),
		verificationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "claimgate",
			Name:      "verification_seconds",
			Help:      "Duration of manuscript verification runs",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) PacketCreated(status string) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(status).Inc()
}

func (m *Metrics) GateDecision(allowed bool) {
	if m == nil {
		return
	}
	decision := "blocked"
	if allowed {
		decision = "allowed"
	}
	m.gateDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) AuditAppend(eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.auditAppends.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) ObserveVerification(d time.Duration) {
	if m == nil {
		return
	}
	m.verificationSeconds.Observe(d.Seconds())
}
