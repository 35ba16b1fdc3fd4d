package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusguard_messages_ingested_total",
			Help: "Messages appended to the store",
		},
		[]string{"source", "kind"},
	)

	IngestSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusguard_ingest_skipped_total",
			Help: "Inbound units skipped because they were malformed or unsupported",
		},
		[]string{"source", "reason"},
	)

	MailboxPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusguard_mailbox_polls_total",
			Help: "Mailbox polling cycles",
		},
		[]string{"result"}, // "ok" or "error"
	)

	// Triage
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusguard_classifications_total",
			Help: "Completed classifications by verdict",
		},
		[]string{"kind", "verdict"},
	)

	ClassificationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusguard_classification_errors_total",
			Help: "Classification failures resolved by the fail-open policy",
		},
		[]string{"kind", "reason"},
	)

	SpoofedNotAlerted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nexusguard_spoofed_safe_total",
			Help: "Spoofed audio/video with a safe primary verdict (no alert sent)",
		},
	)

	ClassificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexusguard_classification_duration_seconds",
			Help:    "Classification call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexusguard_sweep_duration_seconds",
			Help:    "Triage sweep duration",
			Buckets: []float64{.01, .1, .5, 1, 5, 15, 60},
		},
	)

	// Alerts
	AlertDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusguard_alert_deliveries_total",
			Help: "Alert deliveries per sink",
		},
		[]string{"sink", "status"}, // "sent", "failed", "skipped", "timeout"
	)

	// Feed
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusguard_feed_requests_total",
			Help: "Feed HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	FeedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexusguard_feed_ws_clients",
			Help: "Connected live feed websocket clients",
		},
	)
)
