package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Assessments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud_analyzer",
			Name:      "assessments_total",
			Help:      "Risk assessments recorded by status",
		},
		[]string{"status"},
	)

	AlertsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fraud_analyzer",
			Name:      "alerts_published_total",
			Help:      "Fraud.AlertTriggered events published",
		},
	)

	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud_analyzer",
			Name:      "events_skipped_total",
			Help:      "Consumed events that were not scored",
		},
		[]string{"reason"},
	)
)
