package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// trigger run results
const (
	resultOK       = "ok"
	resultError    = "error"
	resultPanic    = "panic"
	resultRejected = "rejected"
)

var (
	eventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "statebot",
		Name:      "events_total",
		Help:      "Inbound events handled by the dispatcher",
	})

	triggerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statebot",
			Name:      "trigger_runs_total",
			Help:      "Trigger invocations by plugin and result",
		},
		[]string{"plugin", "result"},
	)

	sendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statebot",
			Name:      "send_failures_total",
			Help:      "Outbound messages the transport failed to deliver",
		},
		[]string{"bot"},
	)

	timerFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statebot",
			Name:      "timer_fires_total",
			Help:      "Timer firings by plugin",
		},
		[]string{"plugin"},
	)

	validationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statebot",
			Name:      "validation_failures_total",
			Help:      "Arguments rejected by payload validation",
		},
		[]string{"plugin"},
	)

	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "statebot",
		Name:      "dispatch_duration_seconds",
		Help:      "Time spent dispatching one inbound event",
		Buckets:   prometheus.DefBuckets,
	})
)
