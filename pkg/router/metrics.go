package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Route outcomes, used as the "outcome" label.
const (
	OutcomeDelivered     = "delivered"
	OutcomeAddressKey    = "address_key"
	OutcomeUnregistered  = "unregistered"
	OutcomeUnimplemented = "unimplemented"
	OutcomeHandlerFailed = "handler_failed"
)

// Metrics holds the router's Prometheus collectors.
type Metrics struct {
	routed    *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	handlers  prometheus.Gauge
}

// NewMetrics registers the router collectors with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		routed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waypoint",
			Subsystem: "router",
			Name:      "routed_total",
			Help:      "Routing decisions by next-hop kind and outcome",
		}, []string{"kind", "outcome"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waypoint",
			Subsystem: "router",
			Name:      "fallbacks_total",
			Help:      "Hops delivered to a default handler",
		}, []string{"kind"}),
		handlers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "waypoint",
			Subsystem: "router",
			Name:      "handlers",
			Help:      "Number of registered handlers",
		}),
	}
}

func (m *Metrics) observe(kind, outcome string) {
	if m == nil {
		return
	}
	m.routed.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) fallback(kind string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(kind).Inc()
}

func (m *Metrics) setHandlers(n int) {
	if m == nil {
		return
	}
	m.handlers.Set(float64(n))
}
