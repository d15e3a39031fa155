// Package metrics defines the Prometheus instrumentation for the control
// plane. Counters are registered with the default registry and exposed at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts events accepted by POST /events.
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dlpmon_events_ingested_total",
		Help: "Events accepted for processing.",
	})

	// EventsProcessed counts events that completed pipeline processing,
	// by outcome.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlpmon_events_processed_total",
		Help: "Events processed by the ingestion pipeline.",
	}, []string{"outcome"})

	// DLPMatches counts scanner hits by category.
	DLPMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlpmon_dlp_matches_total",
		Help: "DLP scanner matches by category.",
	}, []string{"category"})

	// AlertsCreated counts alerts by severity.
	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlpmon_alerts_created_total",
		Help: "Alerts created.",
	}, []string{"severity"})

	// IndexWrites counts document index writes by outcome.
	IndexWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlpmon_index_writes_total",
		Help: "Document index write attempts.",
	}, []string{"outcome"})

	// IndexRetries counts re-queued index jobs.
	IndexRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dlpmon_index_retries_total",
		Help: "Index jobs re-queued after a failed attempt.",
	})

	// AuthFailures counts rejected authenticated requests.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dlpmon_auth_failures_total",
		Help: "Requests rejected by the auth gate.",
	})
)
