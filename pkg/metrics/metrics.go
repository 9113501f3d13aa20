package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors for the relay. A private registry
// keeps the exposition limited to what the relay itself registers.
type Metrics struct {
	registry *prometheus.Registry

	Published     *prometheus.CounterVec
	Delivered     prometheus.Counter
	Dropped       *prometheus.CounterVec
	Connections   *prometheus.GaugeVec
	Subscriptions prometheus.Gauge
}

// New creates a new metrics set backed by a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roverhub",
			Name:      "messages_published_total",
			Help:      "Messages published, by topic.",
		}, []string{"topic"}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roverhub",
			Name:      "messages_delivered_total",
			Help:      "Messages handed to subscriber queues.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roverhub",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped from slow subscriber queues, by topic.",
		}, []string{"topic"}),
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "roverhub",
			Name:      "connections_active",
			Help:      "Active gateway connections, by transport.",
		}, []string{"transport"}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roverhub",
			Name:      "subscriptions_active",
			Help:      "Active topic subscriptions.",
		}),
	}

	registry.MustRegister(
		m.Published,
		m.Delivered,
		m.Dropped,
		m.Connections,
		m.Subscriptions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
