// Package metrics exposes the Prometheus counters and histograms that
// observe the tunneling substrate: tunnel lifecycle counts, proxy
// request outcomes and latency, heartbeat misses, and sweep
// evictions. These are observational only; nothing here enforces a
// throttling policy.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge/histogram this repo exposes,
// registered against a private registry so importing this package
// never mutates the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	tunnelsCreated       prometheus.Counter
	tunnelsActive        prometheus.Gauge
	proxyRequestsTotal   *prometheus.CounterVec
	proxyRequestDuration prometheus.Histogram
	heartbeatMisses      prometheus.Counter
	sweepEvictions       prometheus.Counter
}

// New builds and registers every metric.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		tunnelsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunneld_tunnels_created_total",
			Help: "Total number of tunnels created via the control plane.",
		}),
		tunnelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tunneld_tunnels_active",
			Help: "Current number of tunnel descriptors held by the registry.",
		}),
		proxyRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunneld_proxy_requests_total",
			Help: "Total proxied requests by response status class.",
		}, []string{"status_class"}),
		proxyRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tunneld_proxy_request_duration_seconds",
			Help:    "Proxy pipeline end-to-end request duration.",
			Buckets: prometheus.DefBuckets,
		}),
		heartbeatMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunneld_session_heartbeat_misses_total",
			Help: "Total heartbeat intervals that elapsed without a pong.",
		}),
		sweepEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunneld_registry_sweep_evictions_total",
			Help: "Total tunnel descriptors evicted by the idle sweep.",
		}),
	}

	reg.MustRegister(
		m.tunnelsCreated,
		m.tunnelsActive,
		m.proxyRequestsTotal,
		m.proxyRequestDuration,
		m.heartbeatMisses,
		m.sweepEvictions,
	)
	return m
}

// Handler serves the Prometheus exposition format for this registry,
// mounted at GET /metrics with no operator auth. It is intended for a
// scrape-only network boundary, not public exposure.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProxyRequest satisfies proxy.MetricsRecorder.
func (m *Metrics) ObserveProxyRequest(status int, dur time.Duration) {
	m.proxyRequestsTotal.WithLabelValues(statusClass(status)).Inc()
	m.proxyRequestDuration.Observe(dur.Seconds())
}

// TunnelCreated satisfies control.MetricsRecorder (see control.WithMetrics).
func (m *Metrics) TunnelCreated() {
	m.tunnelsCreated.Inc()
	m.tunnelsActive.Inc()
}

// TunnelRemoved is called on every control-plane delete. Sweep
// evictions are recorded by SweepEvicted instead.
func (m *Metrics) TunnelRemoved() {
	m.tunnelsActive.Dec()
}

// HeartbeatMiss records one missed heartbeat interval.
func (m *Metrics) HeartbeatMiss() {
	m.heartbeatMisses.Inc()
}

// SweepEvicted records n evictions from one sweep pass.
func (m *Metrics) SweepEvicted(n int) {
	m.sweepEvictions.Add(float64(n))
	for range n {
		m.tunnelsActive.Dec()
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "xxx"
	}
	return strconv.Itoa(status/100) + "xx"
}
