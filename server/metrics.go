package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	Invocations *prometheus.CounterVec // by method and result
	Deliveries  *prometheus.CounterVec // by location
	Connections prometheus.Counter
}

func NewMetrics(registry *ClientRegistry) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudhw",
			Subsystem: "hub",
			Name:      "invocations_total",
			Help:      "Hub method invocations by method and result.",
		}, []string{"method", "result"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudhw",
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Messages delivered to a connected party, by location.",
		}, []string{"location"}),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudhw",
			Subsystem: "hub",
			Name:      "connections_total",
			Help:      "Clients registered with the hub.",
		}),
	}
	clients := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "cloudhw",
		Subsystem: "hub",
		Name:      "clients",
		Help:      "Currently registered clients, simulated controllers included.",
	}, func() float64 {
		return float64(len(registry.List()))
	})

	m.registry.MustRegister(m.Invocations, m.Deliveries, m.Connections, clients)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) invocation(method, result string) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(method, result).Inc()
}

func (m *Metrics) delivered(d Delivery) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(d.Location).Inc()
}

func (m *Metrics) connected() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}
