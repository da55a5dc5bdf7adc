package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	Turns             *prometheus.CounterVec
	DuplicateEvents   prometheus.Counter
	GatewayCalls      *prometheus.CounterVec
	GatewayLatency    *prometheus.HistogramVec
	OperationFailures *prometheus.CounterVec
	SessionEvictions  prometheus.Counter
	OutboundEvents    *prometheus.CounterVec
	BusyNotices       prometheus.Counter

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions held in the in-memory index.",
		}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Orchestrator turns by outcome.",
		}, []string{"outcome"}),
		DuplicateEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_events_total",
			Help:      "Inbound events absorbed as duplicates.",
		}),
		GatewayCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Generation gateway attempts by operation and result.",
		}, []string{"op", "result"}),
		GatewayLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_latency_seconds",
			Help:      "Generation gateway attempt latency in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 420},
		}, []string{"op"}),
		OperationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Operations that exhausted their retry budget.",
		}, []string{"op"}),
		SessionEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_evictions_total",
			Help:      "Idle sessions evicted from the in-memory index.",
		}),
		OutboundEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_events_total",
			Help:      "Outbound events by channel, kind and delivery result.",
		}, []string{"channel", "kind", "result"}),
		BusyNotices: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_notices_total",
			Help:      "Busy notices sent while a turn was in flight.",
		}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.DuplicateEvents.Inc()
}

// ObserveGatewayCall records one attempt against a generation gateway.
func (m *Metrics) ObserveGatewayCall(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(op, result).Inc()
	m.GatewayLatency.WithLabelValues(op).Observe(d.Seconds())
	m.window.Observe(op, float64(d.Milliseconds()))
	m.window.ObserveResult(op + "_" + result)
}

func (m *Metrics) ObserveOperationFailure(op string) {
	if m == nil {
		return
	}
	m.OperationFailures.WithLabelValues(op).Inc()
	m.window.ObserveResult(op + "_exhausted")
}

func (m *Metrics) ObserveEviction(active int) {
	if m == nil {
		return
	}
	m.SessionEvictions.Inc()
	m.ActiveSessions.Set(float64(active))
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveOutbound(channel, kind, result string) {
	if m == nil {
		return
	}
	m.OutboundEvents.WithLabelValues(channel, kind, result).Inc()
}

func (m *Metrics) ObserveBusyNotice() {
	if m == nil {
		return
	}
	m.BusyNotices.Inc()
}

// SnapshotGateways returns rolling latency percentiles per gateway operation.
func (m *Metrics) SnapshotGateways() GatewaySnapshot {
	if m == nil {
		return GatewaySnapshot{GeneratedAt: time.Now().UTC(), Operations: []GatewayStats{}}
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
