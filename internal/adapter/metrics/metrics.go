package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the routing and fan-out service.
type Metrics struct {
	RoutingTotal       *prometheus.CounterVec
	PoolTimeoutsTotal  *prometheus.CounterVec
	TenantUp           *prometheus.GaugeVec
	LiveSessions       *prometheus.GaugeVec
	EventsFannedOut    *prometheus.CounterVec
	EventsDropped      prometheus.Counter
	BusPublishFailures prometheus.Counter
	BusAvailable       prometheus.Gauge
}

// New initializes the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoutingTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolpulse",
			Subsystem: "routing",
			Name:      "requests_total",
			Help:      "Total number of tenant routing decisions by outcome.",
		}, []string{"outcome"}), // outcome: routed, fallback_id, not_identified, unknown_tenant, failure
		PoolTimeoutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolpulse",
			Subsystem: "pool",
			Name:      "acquire_timeouts_total",
			Help:      "Total number of connection acquisitions that hit the connect timeout.",
		}, []string{"pool"}),
		TenantUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "schoolpulse",
			Subsystem: "tenant",
			Name:      "up",
			Help:      "Result of the last liveness probe per tenant (1 connected, 0 error).",
		}, []string{"tenant"}),
		LiveSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "schoolpulse",
			Subsystem: "realtime",
			Name:      "live_sessions",
			Help:      "Number of currently registered live sessions per tenant scope.",
		}, []string{"tenant"}),
		EventsFannedOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolpulse",
			Subsystem: "realtime",
			Name:      "events_enqueued_total",
			Help:      "Total number of events enqueued onto live sessions.",
		}, []string{"source"}), // source: local, bus
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "schoolpulse",
			Subsystem: "realtime",
			Name:      "events_dropped_total",
			Help:      "Total number of queued events dropped because a session backlog was full.",
		}),
		BusPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "schoolpulse",
			Subsystem: "bus",
			Name:      "publish_failures_total",
			Help:      "Total number of envelopes that could not be published to other instances.",
		}),
		BusAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "schoolpulse",
			Subsystem: "bus",
			Name:      "available",
			Help:      "Indicates if the cross-instance event bus is reachable (1 for available, 0 otherwise).",
		}),
	}
}
