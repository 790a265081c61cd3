// Package metrics provides the Prometheus collectors the gateway, chain
// ingester, and trigger router report against (spec.md §5 resource model).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Triggr-specific collector. One instance is shared
// across the whole process, registered once at startup.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	IntakeQueueDepth *prometheus.GaugeVec
	ChainReconnects  *prometheus.CounterVec
	EventsDecoded    *prometheus.CounterVec

	TriggerLatency  *prometheus.HistogramVec
	TriggerFailures *prometheus.CounterVec

	SubscribersActive   prometheus.Gauge
	SubscribersDegraded *prometheus.CounterVec
}

// New creates a Metrics instance and registers every collector with
// registerer. Pass prometheus.DefaultRegisterer in production.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triggr_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triggr_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triggr_http_requests_in_flight",
			Help: "Number of HTTP requests currently being handled.",
		}),
		IntakeQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "triggr_chain_intake_queue_depth",
				Help: "Number of decoded events buffered between the chain ingester and the trigger router.",
			},
			[]string{"project"},
		),
		ChainReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triggr_chain_reconnects_total",
				Help: "Total number of chain RPC reconnect attempts.",
			},
			[]string{"project"},
		),
		EventsDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triggr_chain_events_decoded_total",
				Help: "Total number of chain events successfully decoded.",
			},
			[]string{"project", "event"},
		),
		TriggerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triggr_trigger_evaluation_seconds",
				Help:    "Wall-clock duration of a single trigger evaluation.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
			[]string{"project"},
		),
		TriggerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triggr_trigger_evaluation_failures_total",
				Help: "Total number of trigger evaluations that returned an error.",
			},
			[]string{"project", "trigger_id"},
		),
		SubscribersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triggr_pubsub_subscribers_active",
			Help: "Number of currently connected WebSocket subscribers.",
		}),
		SubscribersDegraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triggr_pubsub_subscriber_degraded_events_total",
				Help: "Total number of times a subscriber queue dropped a message due to overflow.",
			},
			[]string{"topic"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.RequestsTotal, m.RequestDuration, m.RequestsInFlight,
		m.IntakeQueueDepth, m.ChainReconnects, m.EventsDecoded,
		m.TriggerLatency, m.TriggerFailures,
		m.SubscribersActive, m.SubscribersDegraded,
	} {
		registerer.MustRegister(c)
	}
	return m
}

// RecordTriggerRun observes one trigger invocation's outcome.
func (m *Metrics) RecordTriggerRun(projectID, triggerID string, dur float64, err error) {
	m.TriggerLatency.WithLabelValues(projectID).Observe(dur)
	if err != nil {
		m.TriggerFailures.WithLabelValues(projectID, triggerID).Inc()
	}
}
