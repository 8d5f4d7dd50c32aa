package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	responses *prometheus.CounterVec
	writes    *prometheus.CounterVec
}

// newMetrics creates the worker collectors and registers them when reg is not nil
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgecache",
			Name:      "responses_total",
			Help:      "Intercepted responses by request class and source.",
		}, []string{"class", "source"}),

		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgecache",
			Name:      "cache_writes_total",
			Help:      "Background cache writes by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.responses, m.writes)
	}

	return m
}
