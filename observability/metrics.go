// Package observability concentra logging (zap) e métricas (Prometheus) do gateway.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics usa um registry próprio (não o global) para permitir várias
// instâncias em testes.
type Metrics struct {
	registry *prometheus.Registry

	RateLimitDecisions *prometheus.CounterVec
	StoreErrors        prometheus.Counter
	UpstreamRequests   *prometheus.CounterVec
	UpstreamDuration   *prometheus.HistogramVec
	InFlight           prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RateLimitDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ratelimit_decisions_total",
				Help: "Rate limit decisions by outcome",
			},
			[]string{"outcome"},
		),
		StoreErrors: f.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_ratelimit_store_errors_total",
				Help: "Failures talking to the shared rate limit store",
			},
		),
		UpstreamRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_requests_total",
				Help: "Proxied requests by service and status code",
			},
			[]string{"service", "code"},
		),
		UpstreamDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_duration_seconds",
				Help:    "Latency of proxied requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		InFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_inflight_requests",
				Help: "Requests currently holding a concurrency slot",
			},
		),
	}
}

// Handler expõe o registry no formato de exposição do Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry é usado pelos testes para inspecionar valores.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveDecision conta uma decisão do rate limit. Seguro com m == nil.
func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.RateLimitDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStoreError() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}

func (m *Metrics) ObserveUpstream(service string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(service, strconv.Itoa(code)).Inc()
	m.UpstreamDuration.WithLabelValues(service).Observe(d.Seconds())
}

func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(n))
}
