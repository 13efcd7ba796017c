// Package metrics holds the prometheus collectors of the sync layer. All
// methods are nil-safe so components can run without a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	TicksTotal            *prometheus.CounterVec
	ReconnectsTotal       prometheus.Counter
	ConnectionState       prometheus.Gauge
	PollsTotal            *prometheus.CounterVec
	SourceRequestDuration *prometheus.HistogramVec
	ComparisonFailures    *prometheus.CounterVec
	ActiveSubscriptions   prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "stream",
			Name:      "ticks_total",
			Help:      "Stream frames received, by result",
		}, []string{"result"}),
		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketsync",
			Subsystem: "stream",
			Name:      "connection_state",
			Help:      "0 connecting, 1 open, 2 closed",
		}),
		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "fetcher",
			Name:      "polls_total",
			Help:      "Interval fetcher poll cycles, by outcome",
		}, []string{"outcome"}),
		SourceRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marketsync",
			Subsystem: "source",
			Name:      "request_duration_seconds",
			Help:      "Market data backend request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
		ComparisonFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "loader",
			Name:      "comparison_failures_total",
			Help:      "Comparison fetches degraded to a flat placeholder",
		}, []string{"interval"}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketsync",
			Subsystem: "tracker",
			Name:      "active_subscriptions",
			Help:      "Subscription keys with at least one consumer",
		}),
	}

	m.registry.MustRegister(
		m.TicksTotal,
		m.ReconnectsTotal,
		m.ConnectionState,
		m.PollsTotal,
		m.SourceRequestDuration,
		m.ComparisonFailures,
		m.ActiveSubscriptions,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Tick(result string) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(state))
}

func (m *Metrics) Poll(outcome string) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRequest(endpoint string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SourceRequestDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ComparisonFailed(interval string) {
	if m == nil {
		return
	}
	m.ComparisonFailures.WithLabelValues(interval).Inc()
}

func (m *Metrics) SetActiveSubscriptions(n int) {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Set(float64(n))
}
