// Package metrics exposes Prometheus collectors for the VISS server.
//
// All methods are safe on a nil *Metrics, so components take an optional
// *Metrics in their config and call it unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "viss"

// Metrics holds the server collectors.
type Metrics struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	deliveries       prometheus.Counter
	drops            prometheus.Counter
	staleRejections  prometheus.Counter
	updates          prometheus.Counter
	subscriptions    prometheus.Gauge
	subscriptionEnds *prometheus.CounterVec
	sessions         prometheus.Gauge
	connections      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "total",
			Help:      "Total number of requests by action and status",
		}, []string{"action", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "duration_seconds",
			Help:      "Request handling time by action",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"action"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "deliveries_total",
			Help:      "Total number of deliveries enqueued to sessions",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "drops_total",
			Help:      "Total number of deliveries dropped on saturated session queues",
		}),
		staleRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "stale_rejections_total",
			Help:      "Total number of writes rejected for an old timestamp",
		}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "updates_total",
			Help:      "Total number of accepted writes",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "active",
			Help:      "Current number of live subscriptions",
		}),
		subscriptionEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "ended_total",
			Help:      "Total number of subscriptions ended by final state",
		}, []string{"state"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "open",
			Help:      "Current number of open sessions",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections",
			Help:      "Current number of WebSocket connections",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.requests, m.requestDuration, m.deliveries, m.drops, m.staleRejections,
		m.updates, m.subscriptions, m.subscriptionEnds, m.sessions, m.connections,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Request records a handled request.
func (m *Metrics) Request(action, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(action, status).Inc()
	m.requestDuration.WithLabelValues(action).Observe(seconds)
}

// Delivered records an enqueued delivery.
func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.deliveries.Inc()
}

// Dropped records a delivery dropped by back-pressure.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.drops.Inc()
}

// Updated records an accepted write.
func (m *Metrics) Updated() {
	if m == nil {
		return
	}
	m.updates.Inc()
}

// StaleRejected records a stale write rejection.
func (m *Metrics) StaleRejected() {
	if m == nil {
		return
	}
	m.staleRejections.Inc()
}

// SubscriptionStarted records a new subscription.
func (m *Metrics) SubscriptionStarted() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

// SubscriptionEnded records a subscription reaching a terminal state.
func (m *Metrics) SubscriptionEnded(state string) {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
	m.subscriptionEnds.WithLabelValues(state).Inc()
}

// SessionOpened records a new session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// SessionClosed records a closed or expired session.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

// ConnectionOpened records a new transport connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed records a closed transport connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
