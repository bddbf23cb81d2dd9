package metrics

import "github.com/prometheus/client_golang/prometheus"

// RoutingMetrics exposes counters/gauges/histograms for the task routing
// engine.
type RoutingMetrics struct {
	decisionsTotal *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	routeLatency   *prometheus.HistogramVec
	triageTotal    *prometheus.CounterVec
}

func NewRoutingMetrics(reg prometheus.Registerer) *RoutingMetrics {
	m := &RoutingMetrics{
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cliniccrm",
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Total routing decisions by outcome",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cliniccrm",
			Subsystem: "routing",
			Name:      "queue_depth",
			Help:      "Current number of tasks waiting per queue",
		}, []string{"queue_id"}),
		routeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cliniccrm",
			Subsystem: "routing",
			Name:      "route_latency_seconds",
			Help:      "Latency of routing decisions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		triageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cliniccrm",
			Subsystem: "triage",
			Name:      "assessments_total",
			Help:      "Total triage assessments by resolved urgency",
		}, []string{"urgency"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.decisionsTotal, m.queueDepth, m.routeLatency, m.triageTotal)
	return m
}

func (m *RoutingMetrics) ObserveDecision(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(outcome).Inc()
	m.routeLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *RoutingMetrics) SetQueueDepth(queueID string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queueID).Set(float64(depth))
}

func (m *RoutingMetrics) ObserveTriage(urgency string) {
	if m == nil {
		return
	}
	m.triageTotal.WithLabelValues(urgency).Inc()
}
