package monitor

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the lifecycle engine.
// All methods are safe on a nil receiver so components can run unmetered.
type Metrics struct {
	registry *prometheus.Registry

	signals      prometheus.Counter
	orders       *prometheus.CounterVec
	closes       *prometheus.CounterVec
	redemptions  *prometheus.CounterVec
	drift        *prometheus.CounterVec
	targets      prometheus.Counter
	exchangeLat  *prometheus.HistogramVec
	tickDuration prometheus.Histogram
	openGauge    prometheus.Gauge
	apiRequests  *prometheus.CounterVec
	apiLatency   prometheus.Histogram
}

// NewMetrics creates and registers collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalcore_signals_total",
			Help: "Signals accepted",
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcore_orders_total",
			Help: "Orders recorded by entry tier and resulting status",
		}, []string{"tier", "status"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcore_positions_closed_total",
			Help: "Positions closed by result (WIN|LOSS|BREAKEVEN|closed_externally)",
		}, []string{"result"}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcore_action_redemptions_total",
			Help: "Action token redemptions by action and outcome",
		}, []string{"action", "outcome"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcore_reconcile_drift_total",
			Help: "Requested-vs-actual mismatches found during reconciliation",
		}, []string{"field"}),
		targets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalcore_targets_reached_total",
			Help: "Entry targets that transitioned into reached",
		}),
		exchangeLat: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalcore_exchange_call_seconds",
			Help:    "Exchange call latency by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalcore_tick_duration_seconds",
			Help:    "Price trigger evaluation duration",
			Buckets: prometheus.DefBuckets,
		}),
		openGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalcore_open_positions",
			Help: "OPEN positions seen by the last reconcile sweep",
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcore_http_requests_total",
			Help: "HTTP requests by route and status class",
		}, []string{"route", "code"}),
		apiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalcore_http_request_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.signals, m.orders, m.closes, m.redemptions, m.drift,
		m.targets, m.exchangeLat, m.tickDuration, m.openGauge,
		m.apiRequests, m.apiLatency,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) SignalAccepted() {
	if m == nil {
		return
	}
	m.signals.Inc()
}

func (m *Metrics) OrderRecorded(tier, status string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(tier, status).Inc()
}

func (m *Metrics) PositionClosed(result string) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(result).Inc()
}

func (m *Metrics) Redemption(action, outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) Drift(field string) {
	if m == nil {
		return
	}
	m.drift.WithLabelValues(field).Inc()
}

func (m *Metrics) TargetReached() {
	if m == nil {
		return
	}
	m.targets.Inc()
}

func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openGauge.Set(float64(n))
}

// APIRequest records one served HTTP request.
func (m *Metrics) APIRequest(route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.apiRequests.WithLabelValues(route, fmt.Sprintf("%dxx", status/100)).Inc()
	m.apiLatency.Observe(latency.Seconds())
}

// Timer helps measure operation duration.
type Timer struct {
	start time.Time
	obs   prometheus.Observer
}

// ExchangeTimer starts timing an exchange call.
func (m *Metrics) ExchangeTimer(op string) *Timer {
	t := &Timer{start: time.Now()}
	if m != nil {
		t.obs = m.exchangeLat.WithLabelValues(op)
	}
	return t
}

// TickTimer starts timing a price tick.
func (m *Metrics) TickTimer() *Timer {
	t := &Timer{start: time.Now()}
	if m != nil {
		t.obs = m.tickDuration
	}
	return t
}

// Stop records elapsed time.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.obs != nil {
		t.obs.Observe(elapsed.Seconds())
	}
	return elapsed
}
