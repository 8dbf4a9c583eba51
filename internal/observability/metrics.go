package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the planner's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	Attempts       *prometheus.CounterVec
	AttemptLatency *prometheus.HistogramVec
	Connections    *prometheus.CounterVec
	Bridges        *prometheus.CounterVec
	BuffersHeld    prometheus.Gauge
	RemoteCalls    *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkplan_path_attempts_total",
			Help: "Path attempts by connection kind, strategy and result",
		}, []string{"kind", "strategy", "result"}),
		AttemptLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linkplan_path_attempt_duration_seconds",
			Help:    "Duration of one submit/fetch round trip",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"kind"}),
		Connections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkplan_connections_total",
			Help: "Connect calls by connection kind and outcome",
		}, []string{"kind", "outcome"}),
		Bridges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkplan_bridge_fallbacks_total",
			Help: "Underground bridge fallbacks by result",
		}, []string{"result"}),
		BuffersHeld: f.NewGauge(prometheus.GaugeOpts{
			Name: "linkplan_collision_buffers_held",
			Help: "Collision buffers currently installed by this process",
		}),
		RemoteCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkplan_remote_calls_total",
			Help: "Authority calls by op and status",
		}, []string{"op", "status"}),
	}
}

func (m *Metrics) Attempt(kind, strategy string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(kind, strategy, result(ok)).Inc()
	m.AttemptLatency.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) Connection(kind, outcome string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Bridge(ok bool) {
	if m == nil {
		return
	}
	m.Bridges.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) BufferHeld(delta float64) {
	if m == nil {
		return
	}
	m.BuffersHeld.Add(delta)
}

func (m *Metrics) RemoteCall(op string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.RemoteCalls.WithLabelValues(op, status).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
