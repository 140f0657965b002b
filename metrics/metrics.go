// Package metrics exposes Prometheus counters for the booking engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements generic.InvalidationObserver.
type Collector struct {
	invalidations *prometheus.CounterVec
}

// New registers the counters on reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking_engine",
			Name:      "cache_invalidations_total",
			Help:      "Availability cache invalidations dispatched after commit, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(c.invalidations)
	return c
}

func (c *Collector) ObserveInvalidation(result string) {
	c.invalidations.WithLabelValues(result).Inc()
}

// Handler serves the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
