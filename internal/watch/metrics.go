package watch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ccogswell/tapestryoflegends/internal/health"
)

var probeBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

type probeMetrics struct {
	serviceUp    *prometheus.GaugeVec
	probeTotal   *prometheus.CounterVec
	probeLatency *prometheus.HistogramVec
}

func newProbeMetrics(namespace string) *probeMetrics {
	if namespace == "" {
		namespace = "legends"
	}
	m := &probeMetrics{
		serviceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "service_up",
			Help:      "1 when the service answered its health endpoint, 0 otherwise",
		}, []string{"service"}),
		probeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "probes_total",
			Help:      "Count of health probes by outcome",
		}, []string{"service", "outcome"}),
		probeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "probe_duration_seconds",
			Help:      "Latency distribution of health probes",
			Buckets:   probeBuckets,
		}, []string{"service"}),
	}

	collectors := []prometheus.Collector{m.serviceUp, m.probeTotal, m.probeLatency}
	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch v := are.ExistingCollector.(type) {
				case *prometheus.GaugeVec:
					m.serviceUp = v
				case *prometheus.CounterVec:
					m.probeTotal = v
				case *prometheus.HistogramVec:
					m.probeLatency = v
				}
			}
		}
	}
	return m
}

func (m *probeMetrics) record(result health.Result) {
	up := 0.0
	outcome := "failure"
	if result.Healthy {
		up = 1.0
		outcome = "success"
	}
	m.serviceUp.WithLabelValues(result.Name).Set(up)
	m.probeTotal.WithLabelValues(result.Name, outcome).Inc()
	m.probeLatency.WithLabelValues(result.Name).Observe(result.Latency.Seconds())
}
