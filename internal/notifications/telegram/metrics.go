package telegram

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bissquit/market-sentinel/internal/domain"
)

var (
	broadcastMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsentinel",
			Subsystem: "broadcast",
			Name:      "messages_total",
			Help:      "Broadcast messages by outcome (sent, failed, simulated)",
		},
		[]string{"outcome"},
	)

	broadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsentinel",
			Subsystem: "broadcast",
			Name:      "runs_total",
			Help:      "Broadcast runs by mode (live, dry_run) and completion",
		},
		[]string{"mode", "cancelled"},
	)

	recipientsDeactivated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsentinel",
			Subsystem: "broadcast",
			Name:      "recipients_deactivated_total",
			Help:      "Recipients deactivated after a permanent send failure",
		},
		[]string{"type"},
	)
)

func recordBroadcast(r *BroadcastResult) {
	mode := "live"
	if r.DryRun {
		mode = "dry_run"
		broadcastMessages.WithLabelValues("simulated").Add(float64(r.Sent))
	} else {
		broadcastMessages.WithLabelValues("sent").Add(float64(r.Sent))
		broadcastMessages.WithLabelValues("failed").Add(float64(r.Failed))
	}
	cancelled := "false"
	if r.Cancelled {
		cancelled = "true"
	}
	broadcastsTotal.WithLabelValues(mode, cancelled).Inc()
}

func recordDeactivation(t domain.DeactivationType) {
	recipientsDeactivated.WithLabelValues(string(t)).Inc()
}
