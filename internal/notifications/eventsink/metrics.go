package eventsink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketsentinel",
		Subsystem: "eventsink",
		Name:      "published_total",
		Help:      "Router events written to Kafka",
	})

	eventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketsentinel",
		Subsystem: "eventsink",
		Name:      "failed_total",
		Help:      "Router events lost to Kafka write errors",
	})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketsentinel",
		Subsystem: "eventsink",
		Name:      "dropped_total",
		Help:      "Router events dropped because the buffer was full",
	})
)
