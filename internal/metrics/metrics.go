// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ModerationActions counts moderation API calls by action and outcome (ok, validation, state, conflict, not_found, error).
	ModerationActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livepulse_moderation_actions_total",
		Help: "Moderation operations by action and outcome.",
	}, []string{"action", "outcome"})

	// Subscribers is the number of live WebSocket subscribers on this instance by view.
	Subscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livepulse_realtime_subscribers",
		Help: "Connected change-stream subscribers by view.",
	}, []string{"view"})

	// SessionStreams is the number of per-session change streams this instance holds open.
	SessionStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livepulse_realtime_session_streams",
		Help: "Open per-session change-stream subscriptions.",
	})

	// DroppedSubscribers counts clients disconnected because their send buffer overflowed.
	DroppedSubscribers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livepulse_realtime_dropped_subscribers_total",
		Help: "Subscribers disconnected for falling behind the change stream.",
	})

	// RequestDuration tracks HTTP latency.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livepulse_http_request_duration_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// QueueDepth is the length of the background job lists, sampled by the worker.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livepulse_queue_depth",
		Help: "Pending jobs per Redis list.",
	}, []string{"queue"})

	// AuditJobs counts processed audit jobs by outcome (stored, failed).
	AuditJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livepulse_audit_jobs_total",
		Help: "Audit jobs processed by outcome.",
	}, []string{"outcome"})

	// AuditPurged counts audit entries removed by retention.
	AuditPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livepulse_audit_purged_total",
		Help: "Audit entries deleted by the retention job.",
	})
)

func init() {
	prometheus.MustRegister(ModerationActions)
	prometheus.MustRegister(Subscribers)
	prometheus.MustRegister(SessionStreams)
	prometheus.MustRegister(DroppedSubscribers)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(QueueDepth, AuditJobs, AuditPurged)
}
