package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bissquit/market-sentinel/internal/domain"
)

const namespace = "marketsentinel"

var (
	notificationQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_size",
			Help:      "Number of notifications in queue by status",
		},
		[]string{"status"},
	)

	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total channel send attempts by outcome",
		},
		[]string{"channel_type", "status"},
	)

	notificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to send notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel_type"},
	)

	routingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "routes_total",
			Help:      "Route calls by outcome (delivered, failed, blocked)",
		},
		[]string{"outcome"},
	)

	fallbacksUsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "fallbacks_total",
			Help:      "Fallback channels attempted after all targets failed",
		},
	)

	notificationsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_fetched_total",
			Help:      "Total notifications claimed from queue",
		},
	)

	queueRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_rejected_total",
			Help:      "Notifications rejected because the queue was overloaded",
		},
	)

	queueOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_outcomes_total",
			Help:      "Queue items by processing outcome (sent, pending, retrying, failed, dead_letter)",
		},
		[]string{"outcome"},
	)
)

func recordNotificationSent(channel domain.ChannelType, success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	notificationsSent.WithLabelValues(string(channel), status).Inc()
}

func recordNotificationDuration(channel domain.ChannelType, duration time.Duration) {
	notificationSendDuration.WithLabelValues(string(channel)).Observe(duration.Seconds())
}

func recordRoutingOutcome(res *RouterResult) {
	outcome := "delivered"
	switch {
	case res.Success:
	case !res.Decision.ShouldRoute:
		outcome = "blocked"
	default:
		outcome = "failed"
	}
	routingOutcomes.WithLabelValues(outcome).Inc()
	fallbacksUsed.Add(float64(res.Summary.FallbacksUsed))
}

func recordQueueProcessed(count int) {
	notificationsProcessed.Add(float64(count))
}

func recordQueueOutcome(status QueueStatus) {
	queueOutcomes.WithLabelValues(string(status)).Inc()
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	notificationQueueSize.WithLabelValues(string(QueueStatusPending)).Set(float64(stats.Pending))
	notificationQueueSize.WithLabelValues(string(QueueStatusProcessing)).Set(float64(stats.Processing))
	notificationQueueSize.WithLabelValues(string(QueueStatusRetrying)).Set(float64(stats.Retrying))
	notificationQueueSize.WithLabelValues(string(QueueStatusSent)).Set(float64(stats.Sent))
	notificationQueueSize.WithLabelValues(string(QueueStatusFailed)).Set(float64(stats.Failed))
	notificationQueueSize.WithLabelValues(string(QueueStatusDeadLetter)).Set(float64(stats.DeadLetter))
}
