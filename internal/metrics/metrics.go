// Package metrics holds the prometheus collectors shared across components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldcert_step_transitions_total",
			Help: "Inspection step transitions by edge.",
		},
		[]string{"from", "to"},
	)

	InvalidTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldcert_invalid_transitions_total",
			Help: "Operations rejected for being invoked from the wrong step.",
		},
		[]string{"step", "event"},
	)

	ProviderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldcert_provider_attempts_total",
			Help: "Verification attempts by method and settled outcome.",
		},
		[]string{"method", "outcome"},
	)

	Overrides = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldcert_manual_overrides_total",
			Help: "Manual overrides recorded, by reason.",
		},
		[]string{"reason"},
	)

	SyncAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldcert_sync_attempts_total",
			Help: "Submission sync attempts by result.",
		},
		[]string{"result"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldcert_queue_depth",
			Help: "Completed sessions awaiting sync.",
		},
	)
)
