package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instrumentation for the pipeline.
type Metrics struct {
	EventsTotal      prometheus.Counter
	EventsRejected   prometheus.Counter
	AnomaliesTotal   *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec
	SuppressedTotal  prometheus.Counter
	ActionsTotal     *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	QueueDropped     prometheus.Counter
	NotifyFailures   prometheus.Counter
	ProcessingErrors prometheus.Counter
}

// NewMetrics creates and registers the pipeline metrics. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry to
// avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threatops",
			Name:      "events_total",
			Help:      "Telemetry events accepted for analysis.",
		}),
		EventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threatops",
			Name:      "events_rejected_total",
			Help:      "Telemetry events rejected by validation.",
		}),
		AnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatops",
			Name:      "anomalies_total",
			Help:      "Anomalies emitted by the rule engine.",
		}, []string{"rule_id"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatops",
			Name:      "alerts_total",
			Help:      "Alerts created by the correlator.",
		}, []string{"severity"}),
		SuppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threatops",
			Name:      "alerts_suppressed_total",
			Help:      "Anomalies dropped by cooldown suppression.",
		}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatops",
			Name:      "actions_total",
			Help:      "Defensive actions attempted, by type and status.",
		}, []string{"action_type", "status"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "threatops",
			Name:      "queue_depth",
			Help:      "Anomalies waiting in the pipeline queue.",
		}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threatops",
			Name:      "queue_dropped_total",
			Help:      "Anomalies dropped because the queue was full.",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threatops",
			Name:      "notify_failures_total",
			Help:      "Notification deliveries that failed.",
		}),
		ProcessingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threatops",
			Name:      "processing_errors_total",
			Help:      "Worker-side processing errors other than suppression.",
		}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.EventsRejected,
		m.AnomaliesTotal,
		m.AlertsTotal,
		m.SuppressedTotal,
		m.ActionsTotal,
		m.QueueDepth,
		m.QueueDropped,
		m.NotifyFailures,
		m.ProcessingErrors,
	)
	return m
}
