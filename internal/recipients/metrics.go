package recipients

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cleanupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsentinel",
			Subsystem: "cleanup",
			Name:      "runs_total",
			Help:      "Cleanup sweeps by result (completed, cancelled, failed)",
		},
		[]string{"result"},
	)

	cleanupDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketsentinel",
			Subsystem: "cleanup",
			Name:      "recipients_deactivated_total",
			Help:      "Recipients deactivated for inactivity",
		},
	)

	cleanupLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketsentinel",
			Subsystem: "cleanup",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last cleanup sweep",
		},
	)
)
