// Package metrics holds the process's Prometheus collectors. It is ambient
// observability the distilled spec's HTTP surface table does not itemize but every component in
// this lineage carries (grounded on longregen/alicia's adapters/metrics/prometheus.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tms_messages_sent_total",
		Help: "Total number of messages accepted by MessageIngest.",
	})

	EventsBroadcastTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tms_events_broadcast_total",
		Help: "Total number of events published to the shared event channel, by event type.",
	}, []string{"event"})

	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tms_rate_limit_rejections_total",
		Help: "Total number of requests rejected by RateLimiter, by class.",
	}, []string{"class"})

	AdvisoryLockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tms_advisory_lock_wait_seconds",
		Help:    "Time spent waiting to acquire a Postgres advisory lock.",
		Buckets: prometheus.DefBuckets,
	})

	WSSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tms_ws_sessions_active",
		Help: "Number of currently registered WebSocket sessions on this process.",
	})
)
