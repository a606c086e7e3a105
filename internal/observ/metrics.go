package observ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors the server exports on /metrics.
type Metrics struct {
	Commands       *prometheus.CounterVec
	CommandLatency *prometheus.HistogramVec
	Connections    prometheus.Gauge
	Subscriptions  *prometheus.GaugeVec
	Pushes         *prometheus.CounterVec
	BestEffort     *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. Pass prometheus.NewRegistry()
// in tests so registrations do not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle",
			Name:      "commands_total",
			Help:      "Commands handled, by command and result code.",
		}, []string{"command", "code"}),
		CommandLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "huddle",
			Name:      "command_duration_seconds",
			Help:      "Command handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "huddle",
			Name:      "ws_connections",
			Help:      "Open WebSocket connections.",
		}),
		Subscriptions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "huddle",
			Name:      "subscriptions",
			Help:      "Active stream subscriptions, by stream kind.",
		}, []string{"kind"}),
		Pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle",
			Name:      "snapshot_pushes_total",
			Help:      "Snapshots delivered to subscribers, by stream kind.",
		}, []string{"kind"}),
		BestEffort: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle",
			Name:      "best_effort_failures_total",
			Help:      "Secondary writes that failed and were skipped.",
		}, []string{"op"}),
	}
}

// The helpers below tolerate a nil *Metrics so packages can be used without
// a registry.

func (m *Metrics) BestEffortFailed(op string) {
	if m != nil {
		m.BestEffort.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Pushed(kind string) {
	if m != nil {
		m.Pushes.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SubscriptionAdded(kind string) {
	if m != nil {
		m.Subscriptions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SubscriptionRemoved(kind string) {
	if m != nil {
		m.Subscriptions.WithLabelValues(kind).Dec()
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) CommandDone(command, code string, seconds float64) {
	if m != nil {
		m.Commands.WithLabelValues(command, code).Inc()
		m.CommandLatency.WithLabelValues(command).Observe(seconds)
	}
}
